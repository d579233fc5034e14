// Command outlay-cli records and lists expenses against a running
// outlay server from the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"outlay/internal/client"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	baseURL := os.Getenv("OUTLAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	c := client.New(baseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "add":
		err = runAdd(ctx, c, os.Args[2:])
	case "list":
		err = runList(ctx, c, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: outlay-cli <command> [flags]

commands:
  add   -amount 19.99 -category Food [-description "lunch"] [-date 2024-01-15]
  list  [-category Food] [-sort date_desc]

The server address is taken from OUTLAY_URL (default http://localhost:8080).`)
}

func runAdd(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	amount := fs.String("amount", "", "decimal amount, e.g. 19.99")
	category := fs.String("category", "", "expense category")
	description := fs.String("description", "", "optional description")
	date := fs.String("date", time.Now().Format("2006-01-02"), "date as YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}

	expense, err := c.Submit(ctx, client.SubmitInput{
		Amount:      *amount,
		Category:    *category,
		Description: *description,
		Date:        *date,
	})
	if err != nil {
		return err
	}

	fmt.Printf("recorded expense #%d: %s %s on %s\n",
		expense.ID, expense.Amount, expense.Category, expense.Date)
	return nil
}

func runList(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	category := fs.String("category", "", "filter by category (case-insensitive)")
	sort := fs.String("sort", "", "date order: date_desc for newest first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	expenses, err := c.List(ctx, *category, *sort)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tCATEGORY\tAMOUNT\tDESCRIPTION")
	for _, e := range expenses {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, e.Date, e.Category, e.Amount, e.Description)
	}
	return w.Flush()
}
