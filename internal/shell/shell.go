// Package shell implements the interactive command loop over an ISAM engine.
//
// EDUCATIONAL NOTES:
// ------------------
// The shell is a REPL (Read-Eval-Print Loop):
// - Read: one line per command
// - Eval: dispatch on the command word to an engine operation
// - Print: report the outcome and, before every prompt, the store status
// - Loop: until "exit" or end of input
//
// Before each prompt the shell reports threshold notices so the user can
// watch the overflow and deletion ratios grow and trigger reorganization.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cabewaldrop/isamdb/internal/isam"
	"github.com/cabewaldrop/isamdb/internal/table"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF5F56", Dark: "#FF6B6B"})
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#02D98E"})
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"})
)

// commands lists the usage lines shown by help.
var commands = []string{
	"[g]et <key>",
	"[i|insert] <key> <a?> <b?> <h?>",
	"[u]pdate <key> <a> <b> <h>",
	"[d]elete <key>",
	"[r|random] [<max>|<min> <max> <amount?>]  - random insert",
	"[dr|delete random] [<amount>|<min> <max> <amount>]",
	"",
	"[p]rint",
	"[ps|print sequence] <[all]?>              - 'all' shows deleted records",
	"[s]tats",
	"auto                                      - toggle auto reorganization",
	"reorganize <[f]?>                         - use 'f' to force reorganization",
	"history                                   - list executed commands",
	"",
	"cleanup",
	"[f]lush",
	"[h]elp",
	"[e]xit",
}

// Shell reads commands from in and writes results to out.
type Shell struct {
	engine  *isam.Engine
	in      *bufio.Scanner
	out     io.Writer
	rng     *rand.Rand
	history []string
}

// New returns a shell over engine. Random commands draw from a generator
// seeded with seed, so a session replays identically.
func New(engine *isam.Engine, in io.Reader, out io.Writer, seed int64) *Shell {
	return &Shell{
		engine: engine,
		in:     bufio.NewScanner(in),
		out:    out,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// History returns the commands that changed or queried records.
func (s *Shell) History() []string {
	return s.history
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) println(text string) {
	fmt.Fprintln(s.out, text)
}

func (s *Shell) notice(format string, args ...any) {
	s.println(noticeStyle.Render(fmt.Sprintf(format, args...)))
}

func (s *Shell) success(format string, args ...any) {
	s.println(successStyle.Render(fmt.Sprintf(format, args...)))
}

func (s *Shell) failure(format string, args ...any) {
	s.println(errorStyle.Render(fmt.Sprintf(format, args...)))
}

func (s *Shell) printCommands() {
	s.println("Commands:")
	for _, line := range commands {
		if line == "" {
			s.println("")
			continue
		}
		s.println("  " + line)
	}
}

// Run executes commands until exit or end of input, flushing the engine
// before returning.
func (s *Shell) Run() error {
	s.println(titleStyle.Render("ISAM interactive shell"))
	s.printCommands()

	for {
		s.status()
		s.printf("> ")
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			s.println("")
			return s.engine.Flush()
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		if !s.Execute(line) {
			return nil
		}
	}
}

// status prints the automatic reorganization and threshold notices.
func (s *Shell) status() {
	e := s.engine
	if !e.AutoReorganize() {
		s.println(mutedStyle.Render("Automatic reorganization is disabled. Database won't be reorganized during operations."))
	}
	if e.OverflowReachedThreshold() {
		s.notice("Overflow file reached threshold (%.2f/%.2f).", e.OverflowRatio()*100, e.OverflowThreshold()*100)
	}
	if e.DeletionReachedThreshold() {
		s.notice("Deletion counter reached threshold (%.2f/%.2f).", e.DeletionRatio()*100, e.DeletionThreshold()*100)
	}
	if e.NeedsReorganization() {
		s.notice("Database needs reorganization.")
		if e.AutoReorganize() {
			s.notice("It will be triggered automatically on any upcoming non-read command.")
		} else {
			s.notice("You can run it manually with `reorganize` command or enable with 'auto' command.")
		}
	}
}

// parse splits line into a command word and its arguments. The two-word
// commands "delete random" and "print sequence" are joined.
func parse(line string) (string, []string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	if len(args) > 0 {
		next := strings.ToLower(args[0])
		if (cmd == "delete" && next == "random") || (cmd == "print" && next == "sequence") {
			cmd += " " + next
			args = args[1:]
		}
	}
	return cmd, args
}

// Execute runs one command line and reports whether the loop continues.
func (s *Shell) Execute(line string) bool {
	cmd, args := parse(line)

	var err error
	record := true
	switch cmd {
	case "get", "g":
		err = s.get(args)
	case "insert", "i":
		err = s.insert(args)
	case "update", "u":
		err = s.update(args)
	case "delete", "d":
		err = s.delete(args)
	case "random", "r":
		err = s.randomInsert(args)
	case "delete random", "dr":
		err = s.randomDelete(args)
	case "reorganize":
		err = s.reorganize(args)
	case "print", "p":
		record, err = false, s.print()
	case "print sequence", "ps":
		record, err = false, s.printSequence(args)
	case "stats", "s":
		record = false
		s.printf("%s", s.engine.Stats())
	case "auto":
		record = false
		s.engine.SetAutoReorganize(!s.engine.AutoReorganize())
		if s.engine.AutoReorganize() {
			s.success("Auto reorganization enabled.")
		} else {
			s.success("Auto reorganization disabled.")
		}
	case "history":
		record = false
		for i, h := range s.history {
			s.printf("%3d  %s\n", i+1, h)
		}
	case "flush", "f":
		record = false
		if err = s.engine.Flush(); err == nil {
			s.success("Flushed.")
		}
	case "cleanup":
		record = false
		if err = s.engine.Cleanup(); err == nil {
			s.history = nil
			s.success("Cleaned up.")
		}
	case "help", "h":
		record = false
		s.printCommands()
	case "exit", "e":
		if err := s.engine.Flush(); err != nil {
			s.failure("IO error: %v", err)
		}
		s.println("Bye.")
		return false
	default:
		record = false
		s.failure("Unknown command: %s", cmd)
	}

	var usage usageError
	switch {
	case err == nil:
		if record {
			s.history = append(s.history, line)
		}
	case errors.As(err, &usage):
		s.println(string(usage))
	case errors.Is(err, isam.ErrInvalidKey), errors.Is(err, isam.ErrDuplicateKey), errors.Is(err, strconv.ErrSyntax), errors.Is(err, strconv.ErrRange):
		s.failure("Error: %v", err)
	default:
		s.failure("IO error: %v", err)
	}
	return true
}

// usageError carries the usage text of a command called with wrong arguments.
type usageError string

func (u usageError) Error() string {
	return string(u)
}

func parseKey(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func parseFloats(args []string) ([]float64, error) {
	values := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func (s *Shell) get(args []string) error {
	if len(args) != 1 {
		return usageError("Usage: [g|get] <key>")
	}
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	rec, ok, err := s.engine.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		s.println("Not found.")
		return nil
	}
	s.println("Record: " + rec.String())
	return nil
}

func (s *Shell) insert(args []string) error {
	if len(args) != 1 && len(args) != 4 {
		return usageError("Usage: [i|insert] <key> <a?> <b?> <h?>")
	}
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	payload := []float64{1, 2, 3}
	if len(args) == 4 {
		if payload, err = parseFloats(args[1:]); err != nil {
			return err
		}
	}
	result, err := s.engine.Insert(table.NewRecord(key, payload[0], payload[1], payload[2]))
	if err != nil {
		return err
	}
	s.printf("Inserted key=%d, result=%s\n", key, result)
	return nil
}

func (s *Shell) update(args []string) error {
	if len(args) != 4 {
		return usageError("Usage: [u|update] <key> <a> <b> <h>")
	}
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	payload, err := parseFloats(args[1:])
	if err != nil {
		return err
	}
	ok, err := s.engine.Update(table.NewRecord(key, payload[0], payload[1], payload[2]))
	if err != nil {
		return err
	}
	if !ok {
		s.println("Not found.")
		return nil
	}
	s.success("Record updated.")
	return nil
}

func (s *Shell) delete(args []string) error {
	if len(args) != 1 {
		return usageError("Usage: [d|delete] <key>")
	}
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	ok, err := s.engine.Delete(key)
	if err != nil {
		return err
	}
	if !ok {
		s.println("Not found.")
		return nil
	}
	s.success("Record deleted.")
	return nil
}

func (s *Shell) randomInsert(args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return usageError("Usage:\n\t[r|random] <max>\n\t[r|random] <min> <max> <amount?>")
	}
	bounds := make([]int32, len(args))
	for i, a := range args {
		v, err := parseKey(a)
		if err != nil {
			return err
		}
		bounds[i] = v
	}

	from, to := int32(0), bounds[0]
	if len(bounds) > 1 {
		from, to = bounds[0], bounds[1]
	}
	amount := int(to - from)
	if len(bounds) == 3 {
		amount = int(bounds[2])
	}

	keys, err := s.engine.RandomInsert(s.rng, from, to, amount)
	if len(keys) > 0 {
		s.printf("Inserted %d random records: %s\n", len(keys), joinKeys(keys))
	}
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		s.notice("Specified range of random numbers is exhausted. Try different `min`/`max` value.")
	}
	return nil
}

func (s *Shell) randomDelete(args []string) error {
	if len(args) != 1 && len(args) != 3 {
		return usageError("Usage:\n\t[dr|delete random] <amount>\n\t[dr|delete random] <min> <max> <amount>")
	}
	values := make([]int32, len(args))
	for i, a := range args {
		v, err := parseKey(a)
		if err != nil {
			return err
		}
		values[i] = v
	}

	from, to, amount := int32(0), int32(s.engine.InsertedRecordAmount()), int(values[0])
	if len(values) == 3 {
		from, to, amount = values[0], values[1], int(values[2])
	}

	keys, err := s.engine.RandomDelete(s.rng, from, to, amount)
	if len(keys) > 0 {
		s.printf("Randomly deleted %d records: %s\n", len(keys), joinKeys(keys))
	}
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		s.notice("Specified range of random numbers is exhausted. Try different `min`/`max` value.")
	}
	return nil
}

func (s *Shell) reorganize(args []string) error {
	force := len(args) == 1 && args[0] == "f"
	ran, err := s.engine.Reorganize(force)
	if err != nil {
		return err
	}
	switch {
	case ran:
		s.success("Reorganized.")
	case !force:
		s.println("No need for reorganization. If you want to force it, use 'reorganize f'.")
	}
	return nil
}

func (s *Shell) printSequence(args []string) error {
	if len(args) > 1 {
		return usageError("Usage: [ps|print sequence] <all?>")
	}
	showDeleted := len(args) == 1 && args[0] == "all"

	s.println("Sequence: ")
	if showDeleted {
		s.println(mutedStyle.Render("(deleted keys are followed with underscore '_')"))
	}
	var keys []string
	err := s.engine.Scan(showDeleted, func(rec table.Record) error {
		k := strconv.Itoa(int(rec.Key))
		if rec.Deleted {
			k += "_"
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	s.println(strings.Join(keys, " "))
	return nil
}

func (s *Shell) print() error {
	entries, err := s.engine.IndexEntries()
	if err != nil {
		return err
	}
	s.println(titleStyle.Render(fmt.Sprintf("Index (smallest key %d):", s.engine.SmallestKey())))
	for _, entry := range entries {
		s.printf("  key %d -> page %d\n", entry.Key, entry.PageNumber)
	}

	dump := func(title string, pages func(func(table.RecordPage) error) error) error {
		s.println(titleStyle.Render(title))
		return pages(func(page table.RecordPage) error {
			s.printf("  page %d (%d/%d)\n", page.Number, page.Count, page.Capacity())
			for slot, rec := range page.Occupied() {
				s.printf("    %d: %s\n", slot, rec)
			}
			return nil
		})
	}
	if err := dump("Primary:", s.engine.PrimaryPages); err != nil {
		return err
	}
	if err := dump("Overflow:", s.engine.OverflowPages); err != nil {
		return err
	}
	s.printf("\nTotal records: %d\n", s.engine.InsertedRecordAmount())
	return nil
}

func joinKeys(keys []int32) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Itoa(int(k))
	}
	return strings.Join(parts, " ")
}
