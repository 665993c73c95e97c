package user

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"library/lwwset/replica"
)

const usage = `commands:
  <replica> add <value>
  <replica> rem <value>
  <replica> query
  <replica> sync <peer>
  sync                      broadcast every replica's state
an empty line exits`

// RunInput reads commands from in and applies them to replicas,
// numbered from 1. It returns when in is exhausted or an empty
// line is read.
func RunInput(in io.Reader, out io.Writer, replicas []*replica.Replica[int]) error {
	fmt.Fprintln(out, usage)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "INPUT: replica operation\n")
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if len(text) == 0 {
			// exit if user entered an empty string
			return nil
		}
		if err := execute(out, strings.Fields(text), replicas); err != nil {
			fmt.Fprintln(out, "Invalid input:", err)
		}
	}
}

func execute(out io.Writer, input []string, replicas []*replica.Replica[int]) error {
	if len(input) == 1 && input[0] == "sync" {
		for _, r := range replicas {
			if err := r.Broadcast(); err != nil {
				return err
			}
		}
		fmt.Fprintln(out, "broadcasted", len(replicas), "states")
		return nil
	}
	if len(input) < 2 {
		return errors.Errorf("expected '<replica> <operation>', got %q", strings.Join(input, " "))
	}

	rep, err := strconv.Atoi(input[0])
	if err != nil || rep < 1 || rep > len(replicas) {
		return errors.Errorf("replica must be between 1 and %d", len(replicas))
	}
	r := replicas[rep-1]

	switch strings.ToLower(input[1]) {
	case "query":
		values := r.Values()
		sort.Ints(values)
		fmt.Fprintln(out, values)
		return nil
	case "add", "rem", "sync":
	default:
		return errors.Errorf("unknown operation %q", input[1])
	}

	if len(input) != 3 {
		return errors.Errorf("%s needs exactly one argument", input[1])
	}
	if strings.ToLower(input[1]) == "sync" {
		peer, err := strconv.Atoi(input[2])
		if err != nil || peer < 1 || peer > len(replicas) {
			return errors.Errorf("peer must be between 1 and %d", len(replicas))
		}
		return r.Sync(replicas[peer-1].GetID())
	}

	value, err := strconv.Atoi(input[2])
	if err != nil {
		return errors.Wrap(err, "value must be an integer")
	}
	if strings.ToLower(input[1]) == "add" {
		r.Add(value)
		return nil
	}
	return r.Remove(value)
}
