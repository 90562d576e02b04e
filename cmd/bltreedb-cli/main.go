package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"

	"github.com/0xd34d10cc/bltreedb"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: bltreedb-cli <path>")
	}

	tree, err := bltreedb.Open(os.Args[1], bltreedb.DefaultOptions())
	if err != nil {
		log.Fatal("Failed to open tree:", err)
	}
	defer tree.Close()

	rl, err := readline.New("> ")
	if err != nil {
		log.Fatal("Failed to initialize readline", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}

		if err := dispatch(tree, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func dispatch(tree *bltreedb.Tree, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "insert":
		if len(fields) != 3 {
			return fmt.Errorf("usage: insert <key> <value>")
		}
		key, value, err := parseKeyValue(fields[1], fields[2])
		if err != nil {
			return err
		}
		ok, err := tree.Insert(key, value)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("already exists")
		}
		return nil

	case "remove":
		if len(fields) != 3 {
			return fmt.Errorf("usage: remove <key> <value>")
		}
		key, value, err := parseKeyValue(fields[1], fields[2])
		if err != nil {
			return err
		}
		ok, err := tree.Remove(key, value)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("not found")
		}
		return nil

	case "search":
		if len(fields) != 2 {
			return fmt.Errorf("usage: search <key>")
		}
		key, err := bltreedb.NewKey(fields[1])
		if err != nil {
			return err
		}
		values, err := tree.Search(key)
		if err != nil {
			return err
		}
		renderValues(values)
		return nil

	case "quit", "exit":
		os.Exit(0)
		return nil

	default:
		return fmt.Errorf("unknown command %q (expected insert/remove/search/quit)", fields[0])
	}
}

func parseKeyValue(keyStr, valueStr string) (bltreedb.Key, bltreedb.Value, error) {
	key, err := bltreedb.NewKey(keyStr)
	if err != nil {
		return key, bltreedb.Value{}, err
	}
	n, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return key, bltreedb.Value{}, fmt.Errorf("value must be an integer: %w", err)
	}
	return key, bltreedb.ValueFromInt64(n), nil
}

func renderValues(values []bltreedb.Value) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"value"})
	for _, v := range values {
		table.Append([]string{strconv.FormatInt(v.Int64(), 10)})
	}
	table.Render()
}
