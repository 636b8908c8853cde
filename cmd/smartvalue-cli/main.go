package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"smartvalue/internal/domain"
	"smartvalue/internal/listview"
	"smartvalue/pkg/smartvalue"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: smartvalue-cli [-server URL] <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  status                       Show server status and current user\n")
	fmt.Fprintf(os.Stderr, "  register <user> <password>   Create an account\n")
	fmt.Fprintf(os.Stderr, "  login <user> <password>      Log in and remember the session\n")
	fmt.Fprintf(os.Stderr, "  logout                       Forget the session\n")
	fmt.Fprintf(os.Stderr, "  list [-market M] [-group G]  Show the watchlist\n")
	fmt.Fprintf(os.Stderr, "  add <symbol> [-name N] [-market M] [-group G]\n")
	fmt.Fprintf(os.Stderr, "  remove <id>                  Remove an instrument\n")
	fmt.Fprintf(os.Stderr, "  refresh [id]                 Re-analyze one instrument or all\n")
	fmt.Fprintf(os.Stderr, "  sort <key|none>              Sort by price, score, recommendation or name\n")
	fmt.Fprintf(os.Stderr, "  move <from-id> <to-id>       Reorder (only while unsorted)\n")
	fmt.Fprintf(os.Stderr, "  groups                       List group labels\n")
	fmt.Fprintf(os.Stderr, "  search <query>               Search symbols, names and groups\n")
	fmt.Fprintf(os.Stderr, "  history <id> [-range R]      Show price history (1D 1W 1M 1Q 1Y)\n")
	fmt.Fprintf(os.Stderr, "  market [-range R]            Show the market overview\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	serverURL := os.Getenv("SMARTVALUE_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	flag.StringVar(&serverURL, "server", serverURL, "smartvalue-server base URL")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	c := smartvalue.NewClient(serverURL)
	if tok, err := smartvalue.LoadToken(); err == nil {
		c.SetToken(tok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, c, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *smartvalue.Client, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Printf("smartvalue-cli %s\n", version)
		return nil

	case "status":
		if err := c.Health(ctx); err != nil {
			return err
		}
		me, err := c.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("server: ok\nuser:   %s\n", me.Username)
		return nil

	case "register":
		if len(args) != 2 {
			return errors.New("usage: register <user> <password>")
		}
		res, err := c.Register(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		return nil

	case "login":
		if len(args) != 2 {
			return errors.New("usage: login <user> <password>")
		}
		res, err := c.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if err := smartvalue.SaveToken(res.Token); err != nil {
			return fmt.Errorf("saving session: %w", err)
		}
		fmt.Printf("%s as %s\n", res.Message, res.Username)
		return nil

	case "logout":
		err := c.Logout(ctx)
		if cerr := smartvalue.ClearToken(); cerr != nil {
			return cerr
		}
		return err

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		market := fs.String("market", "", "market filter (CN, HK, US or ALL)")
		group := fs.String("group", "", "group filter or ALL")
		fs.Parse(args)
		var f *listview.Filter
		if *market != "" || *group != "" {
			f = &listview.Filter{Market: *market, Group: *group}
		}
		wl, err := c.Watchlist(ctx, f)
		if err != nil {
			return err
		}
		printWatchlist(wl)
		return nil

	case "add":
		if len(args) < 1 {
			return errors.New("usage: add <symbol> [-name N] [-market M] [-group G]")
		}
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		name := fs.String("name", "", "display name (defaults to symbol)")
		market := fs.String("market", "US", "market: CN, HK or US")
		group := fs.String("group", "", "group label")
		fs.Parse(args[1:])
		m, err := domain.ParseMarket(*market)
		if err != nil {
			return err
		}
		inst, err := c.Add(ctx, smartvalue.AddRequest{Symbol: args[0], Name: *name, Market: m, Group: *group})
		if err != nil {
			return err
		}
		fmt.Printf("added %s (%s), id %s; analysis started\n", inst.Symbol, inst.Market, inst.ID)
		return nil

	case "remove":
		if len(args) != 1 {
			return errors.New("usage: remove <id>")
		}
		inst, err := c.Remove(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("removed %s\n", inst.Symbol)
		return nil

	case "refresh":
		if len(args) == 1 {
			inst, err := c.Refresh(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", inst.Symbol, listview.StatusLabel(&inst))
			return nil
		}
		res, err := c.RefreshAll(ctx)
		if err != nil {
			return err
		}
		for _, o := range res.Outcomes {
			status := "ok"
			if !o.OK {
				status = o.Error
			}
			fmt.Printf("%-10s %s\n", o.Symbol, status)
		}
		fmt.Printf("%d refreshed, %d failed\n", len(res.Outcomes)-res.Failed, res.Failed)
		return nil

	case "sort":
		if len(args) != 1 {
			return errors.New("usage: sort <price|score|recommendation|name|none>")
		}
		key, err := listview.ParseSortKey(args[0])
		if err != nil {
			return err
		}
		var st listview.State
		if key == listview.SortNone {
			st, err = c.ClearSort(ctx)
		} else {
			st, err = c.SelectSort(ctx, key)
		}
		if err != nil {
			return err
		}
		fmt.Printf("sort: %s %s\n", st.SortKey.Label(), st.Direction)
		return nil

	case "move":
		if len(args) != 2 {
			return errors.New("usage: move <from-id> <to-id>")
		}
		list, err := c.Reorder(ctx, args[0], args[1])
		if smartvalue.IsConflict(err) {
			return errors.New("clear the sort first: smartvalue-cli sort none")
		}
		if err != nil {
			return err
		}
		for i, inst := range list {
			fmt.Printf("%2d. %s\n", i+1, inst.Symbol)
		}
		return nil

	case "groups":
		groups, err := c.Groups(ctx)
		if err != nil {
			return err
		}
		for _, g := range groups {
			fmt.Println(g)
		}
		return nil

	case "search":
		if len(args) < 1 {
			return errors.New("usage: search <query>")
		}
		hits, err := c.Search(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		for _, inst := range hits {
			fmt.Printf("%-8s %-10s %-4s %s\n", inst.ID, inst.Symbol, inst.Market, inst.Name)
		}
		return nil

	case "history":
		if len(args) < 1 {
			return errors.New("usage: history <id> [-range R]")
		}
		fs := flag.NewFlagSet("history", flag.ExitOnError)
		rng := fs.String("range", "1D", "time range")
		fs.Parse(args[1:])
		r, err := domain.ParseTimeRange(*rng)
		if err != nil {
			return err
		}
		hist, err := c.History(ctx, args[0], r)
		if err != nil {
			return err
		}
		if len(hist.Points) == 0 {
			fmt.Println("no history available")
			return nil
		}
		for _, p := range hist.Points {
			fmt.Printf("%-12s %s\n", p.Time, listview.FormatPrice(p.Price))
		}
		return nil

	case "market":
		fs := flag.NewFlagSet("market", flag.ExitOnError)
		rng := fs.String("range", "1D", "time range")
		fs.Parse(args)
		r, err := domain.ParseTimeRange(*rng)
		if err != nil {
			return err
		}
		ov, err := c.Market(ctx, r)
		if err != nil {
			return err
		}
		for _, m := range ov.Markets {
			fmt.Printf("%s  %s\n  %s\n", m.Region, m.Sentiment, m.Summary)
			for _, idx := range m.Indices {
				fmt.Printf("  %-24s %12s %s (%s)\n", idx.Name, idx.Value, idx.Change, idx.ChangePercent)
			}
		}
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printWatchlist(wl smartvalue.WatchlistResponse) {
	fmt.Printf("%s: %d of %d instruments, sort %s %s\n\n",
		wl.User, len(wl.Instruments), wl.Total, wl.View.SortKey.Label(), wl.View.Direction)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tNAME\tMKT\tGROUP\tPRICE\tSCORE\tREC\tMARGIN\tSTATUS")
	for i := range wl.Instruments {
		inst := &wl.Instruments[i]
		price, score, rec, margin := "-", "-", "-", "-"
		if a := inst.Analysis; a != nil {
			price = listview.FormatMoney(a.CurrentPrice, a.Currency)
			score = listview.FormatScore(a.AverageScore())
			rec = listview.RecommendationLabel(a.Recommendation)
			margin = listview.FormatMargin(a.MarginOfSafety())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inst.ID, inst.Symbol, listview.Truncate(inst.Name, 24), inst.Market,
			inst.GroupOrDefault(), price, score, rec, margin, listview.StatusLabel(inst))
	}
	tw.Flush()
}
