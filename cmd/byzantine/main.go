// Command byzantine runs one process of the Byzantine Agreement Algorithm.
//
// Every process is given the same hostfile and faulty count. The process
// whose id matches --commander_id broadcasts --order; the rest run the
// lieutenant protocol and print the order they agreed on.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/nvanbenschoten/byzantine-agreement/general"
	"github.com/nvanbenschoten/byzantine-agreement/msg"
	"github.com/nvanbenschoten/byzantine-agreement/network"
)

const (
	portDesc = "The port processes listen on for incoming messages, unless " +
		"overridden per host in the hostfile using <hostname>:<port> notation."
	hostfileDesc = "Path to a file with one <hostname>[:<port>] per line. " +
		"The line number is the identifier of the process."
	faultyDesc = "The total number of Byzantine processes in the system. " +
		"Processes terminate after round (faulty + 1). The total number of " +
		"processes must be no less than (faulty + 2)."
	cmdrIDDesc = "The identifier of the commander. 0-indexed."
	orderDesc  = "Either \"attack\" or \"retreat\". The order the Commander " +
		"sends. Required for the Commander and rejected for lieutenants."
	maliciousDesc = "Malicious behaviors to exhibit; repeat the flag for " +
		"several. One of \"silent\", \"delay_send\", \"partial_send\", " +
		"\"wrong_order\" (commander only)."
	idDesc = "The id of this process. Only needed if multiple processes in " +
		"the hostfile run on the same host. 0-indexed."
	verboseDesc = "Sets the logging level to verbose."
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	port := pflag.IntP("port", "p", -1, portDesc)
	hostfile := pflag.StringP("hostfile", "h", "", hostfileDesc)
	faulty := pflag.IntP("faulty", "f", -1, faultyDesc)
	cmdrID := pflag.IntP("commander_id", "C", -1, cmdrIDDesc)
	order := pflag.StringP("order", "o", "", orderDesc)
	malicious := pflag.StringArrayP("malicious", "m", nil, maliciousDesc)
	id := pflag.IntP("id", "i", -1, idDesc)
	verbose := pflag.BoolP("verbose", "v", false, verboseDesc)
	pflag.Parse()

	logrus.SetLevel(logrus.WarnLevel)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *hostfile == "" {
		return errors.New("--hostfile is a required flag")
	}
	if *faulty < 0 {
		return errors.New("--faulty is a required flag")
	}
	if *cmdrID < 0 {
		return errors.New("--commander_id is a required flag")
	}

	processes, err := loadHostfile(*hostfile, *port)
	if err != nil {
		return err
	}

	myID, err := localID(processes, *id)
	if err != nil {
		return err
	}

	myID, err = normalizeCommander(processes, *cmdrID, myID)
	if err != nil {
		return err
	}

	if len(processes) < *faulty+2 {
		return errors.New("the total number of processes must be no less than (faulty + 2)")
	}

	isCommander := myID == 0
	orderVal, err := validateOrder(*order, isCommander)
	if err != nil {
		return err
	}
	behavior, err := validateBehavior(*malicious, isCommander)
	if err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{
		"id":  myID,
		"run": uuid.NewString(),
	})

	var g general.General
	if isCommander {
		g, err = general.NewCommander(processes, *faulty, orderVal, behavior, log)
	} else {
		g, err = general.NewLieutenant(processes, uint32(myID), *faulty, behavior, log)
	}
	if err != nil {
		return err
	}

	decision, err := g.Decide()
	if err != nil {
		return err
	}
	fmt.Printf("%d: Agreed on %s\n", myID, decision)
	return nil
}

// loadHostfile reads the process list, one host[:port] per line. Hosts
// without their own port fall back to the --port flag.
func loadHostfile(path string, defaultPort int) (general.ProcessList, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open hostfile: %w", err)
	}
	defer file.Close()

	var processes general.ProcessList
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		addr, err := network.ParseAddress(line, defaultPort)
		if err != nil {
			return nil, err
		}
		processes = append(processes, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read hostfile: %w", err)
	}
	return processes, nil
}

// localID determines this process's id, either from the --id flag or by
// finding the single hostfile entry matching our hostname.
func localID(processes general.ProcessList, flagID int) (int, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return 0, fmt.Errorf("could not determine hostname: %w", err)
	}

	if flagID >= 0 {
		if flagID >= len(processes) {
			return 0, errors.New("--id value not found in hostfile")
		}
		if processes[flagID].Host != hostname {
			return 0, errors.New("--id value is not the hostname of this host")
		}
		return flagID, nil
	}

	found := -1
	for i, addr := range processes {
		if addr.Host == hostname {
			if found >= 0 {
				return 0, errors.New("when running multiple processes on the same host, use the --id flag")
			}
			found = i
		}
	}
	if found == -1 {
		return 0, errors.New("current hostname not found in hostfile")
	}
	return found, nil
}

// normalizeCommander swaps the commander into index 0 of the process list
// and remaps myID through the same swap, so that after normalization the
// commander is always process 0.
func normalizeCommander(processes general.ProcessList, cmdrID, myID int) (int, error) {
	if cmdrID >= len(processes) {
		return 0, errors.New("commander_id does not reference a process")
	}
	processes[0], processes[cmdrID] = processes[cmdrID], processes[0]
	switch myID {
	case cmdrID:
		return 0, nil
	case 0:
		return cmdrID, nil
	}
	return myID, nil
}

// validateOrder enforces that exactly the commander supplies an order.
func validateOrder(order string, isCommander bool) (msg.Order, error) {
	if !isCommander {
		if order != "" {
			return 0, errors.New("only the commander process can specify an order")
		}
		return msg.NoOrder, nil
	}
	if order == "" {
		return 0, errors.New("the commander must specify an order")
	}
	return msg.ParseOrder(order)
}

// validateBehavior folds the repeated --malicious flags into a behavior set
// and enforces that only the commander can send wrong orders.
func validateBehavior(malicious []string, isCommander bool) (general.Behavior, error) {
	var behavior general.Behavior
	for _, s := range malicious {
		b, err := general.ParseBehavior(s)
		if err != nil {
			return 0, err
		}
		behavior |= b
	}
	if !isCommander && behavior.Exhibits(general.WrongOrder) {
		return 0, errors.New(`only the commander process can have the malicious behavior "wrong_order"`)
	}
	return behavior, nil
}
