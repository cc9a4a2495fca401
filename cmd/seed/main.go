// Seed program: builds relation "accounts" with HOT and PHOT update chains,
// an aborted insert and a committed delete, then vacuums page 0 and
// prints the page before and after.
// Run: go run ./cmd/seed --data-dir databases/demo
// Then inspect: go run ./cmd/inspect_page --data-dir databases/demo --rel accounts
package main

import (
	"fmt"
	"os"

	"PruneDB/config"
	"PruneDB/logger"
	storageengine "PruneDB/storage_engine"
	txn "PruneDB/storage_engine/transaction_manager"
	"PruneDB/types"

	flags "github.com/jessevdk/go-flags"
)

type options struct {
	Config   string `long:"config" description:"ini config file"`
	DataDir  string `long:"data-dir" default:"databases/demo" description:"database directory"`
	Fresh    bool   `long:"fresh" description:"remove the data directory first"`
	Updates  int    `long:"updates" default:"6" description:"updates per chain"`
	LogLevel string `long:"log-level" default:"warn"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	cfg.DataDir = opts.DataDir
	if err := logger.Init(logger.LogConfig{LogLevel: opts.LogLevel}); err != nil {
		return err
	}
	if opts.Fresh {
		if err := os.RemoveAll(cfg.DataDir); err != nil {
			return err
		}
	}

	se, err := storageengine.NewStorageEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer se.Close()

	if _, err := se.Relation("accounts"); err != nil {
		if _, err := se.CreateRelation(types.RelationDef{
			Name:           "accounts",
			NumAttributes:  3,
			IndexedColumns: []int{1, 2},
			Columns:        []string{"id", "name", "balance"},
		}); err != nil {
			return err
		}
	}

	in := func(fn func(t *txn.Transaction) error) error {
		t, err := se.BeginTransaction()
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			se.AbortTransaction(t)
			return err
		}
		return se.CommitTransaction(t)
	}
	row := func(vals ...string) types.Row {
		r := types.Row{Values: make([][]byte, len(vals))}
		for i, v := range vals {
			r.Values[i] = []byte(v)
		}
		return r
	}

	fmt.Println("Inserting accounts...")
	names := []string{"alice", "bob", "carol", "dave"}
	roots := make([]types.RowPointer, len(names))
	for i, name := range names {
		if err := in(func(t *txn.Transaction) error {
			roots[i], err = se.Insert(t, "accounts", row(fmt.Sprint(i+1), name, "100"))
			return err
		}); err != nil {
			return err
		}
	}

	fmt.Printf("alice: %d balance updates (HOT)\n", opts.Updates)
	for i := 0; i < opts.Updates; i++ {
		if err := in(func(t *txn.Transaction) error {
			res, err := se.Update(t, roots[0], row("1", "alice", fmt.Sprint(100-i)))
			if err == nil {
				fmt.Printf("  %v -> %v %s\n", res.Old, res.New, res.Kind)
			}
			return err
		}); err != nil {
			return err
		}
	}

	fmt.Printf("bob: %d renames (PHOT, column 2 is indexed)\n", opts.Updates)
	for i := 0; i < opts.Updates; i++ {
		if err := in(func(t *txn.Transaction) error {
			res, err := se.Update(t, roots[1], row("2", fmt.Sprintf("bob%d", i), "100"))
			if err == nil {
				fmt.Printf("  %v -> %v %s modified=%s\n", res.Old, res.New, res.Kind, res.Modified)
			}
			return err
		}); err != nil {
			return err
		}
	}

	fmt.Println("carol: deleted")
	if err := in(func(t *txn.Transaction) error {
		_, err := se.Delete(t, roots[2])
		return err
	}); err != nil {
		return err
	}

	fmt.Println("erin: inserted and rolled back")
	t, err := se.BeginTransaction()
	if err != nil {
		return err
	}
	if _, err := se.Insert(t, "accounts", row("5", "erin", "1")); err != nil {
		return err
	}
	if err := se.AbortTransaction(t); err != nil {
		return err
	}

	fmt.Println("\n--- before vacuum ---")
	if err := se.InspectPage(os.Stdout, "accounts", 0); err != nil {
		return err
	}

	res, err := se.VacuumPage("accounts", 0)
	if err != nil {
		return err
	}
	fmt.Printf("\n--- after vacuum: deleted=%d now_dead=%d latest_removed_xid=%d ---\n",
		res.Deleted, res.NowDead, res.LatestRemovedXID)
	if err := se.InspectPage(os.Stdout, "accounts", 0); err != nil {
		return err
	}

	if len(res.DeadSlots) > 0 {
		slots := make([]types.OffsetNumber, len(res.DeadSlots))
		for i, tid := range res.DeadSlots {
			slots[i] = tid.SlotIndex
		}
		n, err := se.ReleaseDeadSlots("accounts", 0, slots)
		if err != nil {
			return err
		}
		fmt.Printf("\nreleased %d dead slot(s) %v\n", n, slots)
	}

	fmt.Println("\nDone. Inspect:")
	fmt.Println("  - Heap files:  ", cfg.DataDir+"/heap/*.heap")
	fmt.Println("  - WAL segments:", cfg.WALPath())
	fmt.Println("  - Relations:   ", cfg.DataDir+"/relations/*.json")
	return nil
}
