// Atelier CLI - inspect publish history and invoke published services.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atelier-ml/atelier-go/service"
	"github.com/atelier-ml/atelier-go/vm"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: atelier <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  history                 # List services published from this machine\n")
		fmt.Fprintf(os.Stderr, "  call <name> [args...]   # Invoke a service from the history by name\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  atelier history\n")
		fmt.Fprintf(os.Stderr, "  atelier call add 2 3\n")
		fmt.Fprintf(os.Stderr, "  atelier call greet '\"world\"'\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "history":
		err = runHistory()
	case "call":
		err = runCall(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "atelier: unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "atelier: %v\n", err)
		os.Exit(1)
	}
}

func historyPath() (string, error) {
	if p := os.Getenv("ATELIER_HISTORY"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating history database: %w", err)
	}
	return filepath.Join(home, ".atelier", "history.db"), nil
}

func runHistory() error {
	path, err := historyPath()
	if err != nil {
		return err
	}
	h, err := service.OpenHistory(path)
	if err != nil {
		return err
	}
	defer h.Close()

	entries, err := h.List(context.Background())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no published services")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\n", e.Name, e.ServiceID, e.PublishedAt.Format("2006-01-02 15:04"), e.URL)
	}
	return nil
}

func runCall(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("call: service name required")
	}
	name := args[0]

	path, err := historyPath()
	if err != nil {
		return err
	}
	h, err := service.OpenHistory(path)
	if err != nil {
		return err
	}
	defer h.Close()

	entry, err := h.Lookup(context.Background(), name)
	if err != nil {
		return err
	}
	if len(args)-1 != len(entry.Params) {
		return fmt.Errorf("call: %s takes %d arguments (%v), got %d", name, len(entry.Params), entry.Params, len(args)-1)
	}

	callArgs := make([]vm.Value, 0, len(args)-1)
	for _, raw := range args[1:] {
		callArgs = append(callArgs, parseArg(raw))
	}

	result, err := entry.Handle().Call(context.Background(), callArgs...)
	if err != nil {
		return err
	}
	fmt.Println(vm.Format(result))
	return nil
}

// parseArg reads a command-line argument as JSON, falling back to a bare
// string so unquoted text works.
func parseArg(raw string) vm.Value {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return toValue(v)
}

func toValue(v any) vm.Value {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case []any:
		out := make(vm.List, 0, len(x))
		for _, item := range x {
			out = append(out, toValue(item))
		}
		return out
	case map[string]any:
		d := vm.NewDict()
		for k, val := range x {
			d.Set(k, toValue(val))
		}
		return d
	default:
		return v
	}
}
