package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	storageengine "PruneDB/storage_engine"
	txn "PruneDB/storage_engine/transaction_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
)

const help = `commands:
  create <rel> <col,...> [indexed=1,2] [fillfactor=N]
  begin | commit | abort
  insert <rel> <value>...          update <tid> <value>...
  delete <tid>                     fetch <tid>
  scan <rel>
  vacuum <rel> [page]              release <rel> <page> <slot>...
  roots <rel> <page>               inspect <rel> <page>
  checkpoint                       exit
a tid is file/page/slot, e.g. 1/0/3. DML outside begin/commit autocommits.`

var errUsage = errors.New("bad arguments, try help")

// session is one REPL connection: the engine plus the open transaction, if
// any.
type session struct {
	se  *storageengine.StorageEngine
	out io.Writer
	tx  *txn.Transaction
}

func newSession(se *storageengine.StorageEngine, out io.Writer) *session {
	return &session{se: se, out: out}
}

func (s *session) prompt() string {
	if s.tx != nil {
		return fmt.Sprintf("db(xid %d)> ", s.tx.ID)
	}
	return "db> "
}

func (s *session) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

// rollback aborts the open transaction, if any.
func (s *session) rollback() {
	if s.tx == nil {
		return
	}
	s.se.AbortTransaction(s.tx)
	s.tx = nil
}

// inTxn runs fn in the open transaction, or in one of its own that commits
// when fn succeeds.
func (s *session) inTxn(fn func(t *txn.Transaction) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	t, err := s.se.BeginTransaction()
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		s.se.AbortTransaction(t)
		return err
	}
	return s.se.CommitTransaction(t)
}

func (s *session) execute(line string) error {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help":
		s.printf("%s\n", help)
		return nil
	case "create":
		return s.create(args)
	case "begin":
		if s.tx != nil {
			return errors.Errorf("transaction %d already open", s.tx.ID)
		}
		t, err := s.se.BeginTransaction()
		if err != nil {
			return err
		}
		s.tx = t
		return nil
	case "commit", "abort":
		if s.tx == nil {
			return storageengine.ErrNoTransaction
		}
		t := s.tx
		s.tx = nil
		if cmd == "commit" {
			return s.se.CommitTransaction(t)
		}
		return s.se.AbortTransaction(t)
	case "insert":
		if len(args) < 2 {
			return errUsage
		}
		return s.inTxn(func(t *txn.Transaction) error {
			tid, err := s.se.Insert(t, args[0], row(args[1:]))
			if err == nil {
				s.printf("INSERT %s\n", formatTID(tid))
			}
			return err
		})
	case "update":
		if len(args) < 2 {
			return errUsage
		}
		tid, err := parseTID(args[0])
		if err != nil {
			return err
		}
		return s.inTxn(func(t *txn.Transaction) error {
			res, err := s.se.Update(t, tid, row(args[1:]))
			if err == nil {
				s.printf("UPDATE %s -> %s %s modified=%s\n", formatTID(res.Old), formatTID(res.New), res.Kind, res.Modified)
			}
			return err
		})
	case "delete":
		if len(args) != 1 {
			return errUsage
		}
		tid, err := parseTID(args[0])
		if err != nil {
			return err
		}
		return s.inTxn(func(t *txn.Transaction) error {
			hit, err := s.se.Delete(t, tid)
			if err == nil {
				s.printf("DELETE %s\n", formatTID(hit))
			}
			return err
		})
	case "fetch":
		if len(args) != 1 {
			return errUsage
		}
		tid, err := parseTID(args[0])
		if err != nil {
			return err
		}
		return s.inTxn(func(t *txn.Transaction) error {
			r, at, err := s.se.Fetch(t, tid)
			if err == nil {
				s.printf("%s %s\n", formatTID(at), formatRow(r))
			}
			return err
		})
	case "scan":
		if len(args) != 1 {
			return errUsage
		}
		return s.inTxn(func(t *txn.Transaction) error {
			n := 0
			err := s.se.Scan(t, args[0], func(tid types.RowPointer, r types.Row) bool {
				s.printf("%s %s\n", formatTID(tid), formatRow(r))
				n++
				return true
			})
			if err == nil {
				s.printf("(%d rows)\n", n)
			}
			return err
		})
	case "vacuum":
		return s.vacuum(args)
	case "release":
		return s.release(args)
	case "roots":
		if len(args) != 2 {
			return errUsage
		}
		pageNo, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		roots, err := s.se.RootTuples(args[0], pageNo)
		if err != nil {
			return err
		}
		for off, root := range roots {
			if root.IsValid() {
				s.printf("%d -> root %d\n", off, root)
			}
		}
		return nil
	case "inspect":
		if len(args) != 2 {
			return errUsage
		}
		pageNo, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		return s.se.InspectPage(s.out, args[0], pageNo)
	case "checkpoint":
		if s.tx != nil {
			return errors.New("checkpoint inside a transaction")
		}
		return s.se.SaveCheckpoint()
	}
	return errors.Errorf("unknown command %q, try help", cmd)
}

func (s *session) create(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	def := types.RelationDef{Name: args[0], Columns: strings.Split(args[1], ",")}
	def.NumAttributes = len(def.Columns)
	for _, opt := range args[2:] {
		key, val, ok := strings.Cut(opt, "=")
		if !ok {
			return errUsage
		}
		switch key {
		case "indexed":
			for _, c := range strings.Split(val, ",") {
				n, err := strconv.Atoi(c)
				if err != nil {
					return errors.Wrapf(errUsage, "indexed column %q", c)
				}
				def.IndexedColumns = append(def.IndexedColumns, n)
			}
		case "fillfactor":
			n, err := strconv.Atoi(val)
			if err != nil {
				return errors.Wrapf(errUsage, "fillfactor %q", val)
			}
			def.FillFactor = n
		default:
			return errors.Errorf("unknown option %q", key)
		}
	}
	rel, err := s.se.CreateRelation(def)
	if err != nil {
		return err
	}
	s.printf("CREATE %s id=%d file=%d\n", rel.Name, rel.ID, rel.FileID)
	return nil
}

func (s *session) vacuum(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	var (
		res *storageengine.VacuumResult
		err error
	)
	if len(args) == 2 {
		pageNo, perr := parseUint32(args[1])
		if perr != nil {
			return perr
		}
		res, err = s.se.VacuumPage(args[0], pageNo)
	} else {
		res, err = s.se.VacuumRelation(args[0])
	}
	if err != nil {
		return err
	}
	s.printf("VACUUM deleted=%d now_dead=%d latest_removed_xid=%d\n", res.Deleted, res.NowDead, res.LatestRemovedXID)
	for _, tid := range res.DeadSlots {
		s.printf("  dead %s\n", formatTID(tid))
	}
	return nil
}

func (s *session) release(args []string) error {
	if len(args) < 3 {
		return errUsage
	}
	pageNo, err := parseUint32(args[1])
	if err != nil {
		return err
	}
	slots := make([]types.OffsetNumber, 0, len(args)-2)
	for _, a := range args[2:] {
		n, err := strconv.ParseUint(a, 10, 16)
		if err != nil {
			return errors.Wrapf(errUsage, "slot %q", a)
		}
		slots = append(slots, types.OffsetNumber(n))
	}
	n, err := s.se.ReleaseDeadSlots(args[0], pageNo, slots)
	if err != nil {
		return err
	}
	s.printf("RELEASE %d\n", n)
	return nil
}

func row(vals []string) types.Row {
	r := types.Row{Values: make([][]byte, len(vals))}
	for i, v := range vals {
		if v != "NULL" {
			r.Values[i] = []byte(v)
		}
	}
	return r
}

func formatRow(r types.Row) string {
	parts := make([]string, len(r.Values))
	for i, v := range r.Values {
		if v == nil {
			parts[i] = "NULL"
		} else {
			parts[i] = strconv.Quote(string(v))
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatTID(tid types.RowPointer) string {
	return fmt.Sprintf("%d/%d/%d", tid.FileID, tid.PageNumber, tid.SlotIndex)
}

func parseTID(s string) (types.RowPointer, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return types.RowPointer{}, errors.Errorf("bad tid %q, want file/page/slot", s)
	}
	var nums [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return types.RowPointer{}, errors.Wrapf(err, "bad tid %q", s)
		}
		nums[i] = n
	}
	if nums[2] == 0 || nums[2] > 0xFFFF {
		return types.RowPointer{}, errors.Errorf("bad slot in tid %q", s)
	}
	return types.RowPointer{FileID: uint32(nums[0]), PageNumber: uint32(nums[1]), SlotIndex: types.OffsetNumber(nums[2])}, nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(errUsage, "number %q", s)
	}
	return uint32(n), nil
}
