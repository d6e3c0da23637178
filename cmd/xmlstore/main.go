// Command xmlstore creates and inspects xml record stores
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kjk/xmlstore/log"
	"github.com/kjk/xmlstore/xmlstore"
)

var version = "dev"

// app is the state shared by commands
type app struct {
	configPath string
	config     *Config
	stdin      io.Reader
	stdout     io.Writer
}

func main() {
	log.Output = os.Stderr
	a := &app{stdin: os.Stdin, stdout: os.Stdout}
	os.Exit(a.execute(os.Args[1:]))
}

// execute runs the command line and returns the exit code. Failures go
// to the errors log when a log dir is configured.
func (a *app) execute(args []string) int {
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	err := cmd.Execute()
	failed := log.IfErrf(err, "Error: %v", err)
	log.Close()
	if failed {
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "xmlstore",
		Short:         "Create and inspect xml record stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			config, err := loadConfig(a.configPath, cmd)
			if err != nil {
				return err
			}
			a.config = config
			log.Verbose = config.Verbose
			if config.LogDir != "" {
				log.Init(&log.Config{Dir: config.LogDir})
			}
			return nil
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default is ./xmlstore.yaml)")
	flags.String("backend", "", "storage backend: dir, http, minio or sftp")
	flags.String("dir", "", "directory of the document for the dir backend")
	flags.StringP("path", "p", "", "path of the document")
	flags.StringP("format", "f", "", "output format: json, yaml, toon, spew or table")
	flags.BoolP("verbose", "v", false, "verbose output")

	root.AddCommand(
		a.initCmd(),
		a.addCmd(),
		a.getCmd(),
		a.findCmd(),
		a.lsCmd(),
		a.metaCmd(),
		a.fmtCmd(),
		a.versionCmd(),
	)
	return root
}

// withStore opens the configured store, runs fn and closes the store
func (a *app) withStore(create bool, fn func(s *xmlstore.Store) error) error {
	backend, closeBackend, err := newBackend(a.config)
	if err != nil {
		return err
	}
	defer closeBackend()
	config := &xmlstore.Config{
		Dir:     a.config.Dir,
		Path:    a.config.Path,
		Create:  create,
		Schema:  a.config.schema(),
		Backend: backend,
	}
	return xmlstore.With(config, fn)
}

func (a *app) print(v any) error {
	return writeValue(a.stdout, a.config.Format, v)
}

func recordMaps(recs []xmlstore.Record) []map[string]any {
	res := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		res = append(res, rec.Map())
	}
	return res
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the document if it doesn't exist",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withStore(true, func(s *xmlstore.Store) error {
				fmt.Fprintf(a.stdout, "%s: next id %d\n", s.Path(), s.Meta().NextID)
				return nil
			})
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a record given as json or yaml, read from stdin without --data",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			d := []byte(data)
			if data == "" {
				var err error
				if d, err = io.ReadAll(a.stdin); err != nil {
					return err
				}
			}
			m, err := parseRecordData(d)
			if err != nil {
				return err
			}
			rec, err := xmlstore.RecordFromMap(m)
			if err != nil {
				return err
			}
			return a.withStore(false, func(s *xmlstore.Store) error {
				id, err := s.Add(rec)
				if err != nil {
					return err
				}
				log.Verbosef("added record %d to '%s'\n", id, s.Path())
				return a.print(map[string]any{"id": id})
			})
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "record e.g. '{\"city\": \"Berlin\"}'")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print the record with a given id",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid id '%s'", args[0])
			}
			return a.withStore(false, func(s *xmlstore.Store) error {
				rec, ok := s.FindByID(id)
				if !ok {
					return fmt.Errorf("record %d not found", id)
				}
				return a.print(rec.Map())
			})
		},
	}
}

func (a *app) findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <field> <value>",
		Short: "Print records whose field equals value, e.g. find address/city Berlin",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.withStore(false, func(s *xmlstore.Store) error {
				m, ok, err := s.FindByField(args[0], args[1])
				if err != nil {
					return err
				}
				var recs []xmlstore.Record
				if ok {
					recs = m.Records()
				}
				return a.print(recordMaps(recs))
			})
		},
	}
}

func (a *app) lsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "Print all records",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withStore(false, func(s *xmlstore.Store) error {
				var recs []xmlstore.Record
				for rec := range s.All() {
					if limit > 0 && len(recs) >= limit {
						break
					}
					recs = append(recs, rec)
				}
				if err := s.Err(); err != nil {
					return err
				}
				return a.print(recordMaps(recs))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "print at most n records")
	return cmd
}

func (a *app) metaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Print the meta section and the number of records",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withStore(false, func(s *xmlstore.Store) error {
				n := 0
				for range s.All() {
					n++
				}
				if err := s.Err(); err != nil {
					return err
				}
				meta := s.Meta()
				res := map[string]any{
					"path":     s.Path(),
					"next_id":  meta.NextID,
					"last_add": "never",
					"records":  n,
				}
				if !meta.LastAdd.IsZero() {
					res["last_add"] = humanize.Time(meta.LastAdd)
				}
				return a.print(res)
			})
		},
	}
}

func (a *app) fmtCmd() *cobra.Command {
	var showDiff bool
	cmd := &cobra.Command{
		Use:   "fmt",
		Short: "Re-indent the document",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			backend, closeBackend, err := newBackend(a.config)
			if err != nil {
				return err
			}
			defer closeBackend()
			path := a.config.Path
			d, err := backend.ReadFile(path)
			if err != nil {
				return err
			}
			formatted, err := xmlstore.Normalize(d)
			if err != nil {
				return fmt.Errorf("failed to parse '%s': %w", path, err)
			}
			if showDiff {
				diff, err := unifiedDiff(path, d, formatted)
				if err != nil {
					return err
				}
				return writeDiff(a.stdout, diff)
			}
			if bytes.Equal(d, formatted) {
				return nil
			}
			if err = backend.WriteFile(path, formatted); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "formatted %s (%s)\n", path, humanize.Bytes(uint64(len(formatted))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print the changes instead of writing them")
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "xmlstore %s\n", version)
		},
	}
}
