package cmd

import (
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/enroll-session/internal"
	"github.com/spf13/cobra"
)

var inspectSampleRows int

// journalTables is the fixed set of tables the journal schema creates. Only
// these names are ever interpolated into queries.
var journalTables = []string{"sessions", "turns", "chunks"}

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect [journal-path]",
	Short: "Inspect the local session journal",
	Long: `Inspect the schema and contents of the local session journal.

Shows every journal table with its row count, columns and a few sample rows.
Useful when a session looks wrong in 'list' or 'show'.

Examples:
  enroll-session inspect
  enroll-session inspect ~/backup/journal.db --sample 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.JournalPath
		}

		db, err := internal.OpenDatabase(path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		return inspectJournal(cmd.OutOrStdout(), db, path, inspectSampleRows)
	},
}

type columnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
}

func inspectJournal(w io.Writer, db *sql.DB, path string, samples int) error {
	fmt.Fprintln(w, sectionStyle.Render("Journal: "+path))
	for _, table := range journalTables {
		if err := inspectTable(w, db, table, samples); err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func inspectTable(w io.Writer, db *sql.DB, table string, samples int) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(table), countStyle.Render(fmt.Sprintf("(%d rows)", count)))

	columns, err := tableColumns(db, table)
	if err != nil {
		return err
	}
	for _, col := range columns {
		var flags []string
		if col.NotNull {
			flags = append(flags, "NOT NULL")
		}
		if col.PrimaryKey {
			flags = append(flags, "PRIMARY KEY")
		}
		line := fmt.Sprintf("  • %s %s", col.Name, col.Type)
		if len(flags) > 0 {
			line += " " + dateStyle.Render(strings.Join(flags, ", "))
		}
		fmt.Fprintln(w, line)
	}

	if count == 0 || samples <= 0 {
		return nil
	}
	return sampleRows(w, db, table, columns, samples)
}

func tableColumns(db *sql.DB, table string) ([]columnInfo, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []columnInfo
	for rows.Next() {
		var (
			col          columnInfo
			cid, nn, pk  int
			defaultValue sql.NullString
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &nn, &defaultValue, &pk); err != nil {
			return nil, err
		}
		col.NotNull = nn == 1
		col.PrimaryKey = pk > 0
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func sampleRows(w io.Writer, db *sql.DB, table string, columns []columnInfo, limit int) error {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}

	rows, err := db.Query(fmt.Sprintf("SELECT %s FROM %s LIMIT %d", strings.Join(names, ", "), table, limit))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	n := 0
	for rows.Next() {
		n++
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		fmt.Fprintf(w, "  %s\n", idStyle.Render(fmt.Sprintf("row %d", n)))
		for i, name := range names {
			fmt.Fprintf(w, "    %s: %s\n", name, sampleValue(values[i]))
		}
	}
	return rows.Err()
}

func sampleValue(v any) string {
	if v == nil {
		return "<NULL>"
	}
	var s string
	if b, ok := v.([]byte); ok {
		s = string(b)
	} else {
		s = fmt.Sprintf("%v", v)
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + "..."
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVar(&inspectSampleRows, "sample", 3, "Number of sample rows to show per table")
}
