package main

import (
	"fmt"
	"io"
	"time"

	"github.com/TheBitDrifter/depot"
	"github.com/TheBitDrifter/depot/alloc"
	"github.com/TheBitDrifter/depot/internal/config"
	"github.com/TheBitDrifter/table"
	iter_util "github.com/TheBitDrifter/util/iter"
	"github.com/goccy/go-json"
	"github.com/pkg/profile"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type position struct {
	X, Y float64
}

type velocity struct {
	X, Y float64
}

type runOptions struct {
	entities  int
	steps     int
	destroyN  int
	profile   string
	asJSON    bool
	configFor string
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Create, iterate, reshape and destroy entities and report allocator state",
		Example: "depot run --entities 100000 --steps 10 --json",
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			opts.configFor = path
			return runWorkload(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.entities, "entities", 100_000, "number of entities to create")
	cmd.Flags().IntVar(&opts.steps, "steps", 10, "number of integration passes over the store")
	cmd.Flags().IntVar(&opts.destroyN, "destroy-every", 5, "destroy every nth entity after the passes")
	cmd.Flags().StringVar(&opts.profile, "profile", "", "write a \"cpu\" or \"mem\" profile to the working directory")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	return cmd
}

type archetypeReport struct {
	ID         uint32   `json:"id"`
	Components []string `json:"components"`
	Entities   int      `json:"entities"`
	Chunks     int      `json:"chunks"`
}

type report struct {
	Allocator  string            `json:"allocator"`
	Created    int               `json:"created"`
	Destroyed  int               `json:"destroyed"`
	Live       int               `json:"live"`
	Steps      int               `json:"steps"`
	Archetypes []archetypeReport `json:"archetypes"`
	Memory     any               `json:"memory"`
	Timings    map[string]string `json:"timings"`
}

func runWorkload(out io.Writer, opts runOptions) (err error) {
	if opts.entities <= 0 || opts.destroyN <= 0 {
		return eris.New("--entities and --destroy-every must be positive")
	}
	switch opts.profile {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		return eris.Errorf("unknown profile %q", opts.profile)
	}

	cfg, err := config.Load(opts.configFor)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return eris.Wrap(err, "init logger")
	}
	defer log.Sync()

	backing, err := cfg.NewAllocator(log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, backing.Close())
	}()

	sto, err := depot.Factory.NewStorage(table.Factory.NewSchema(), cfg.DepotConfig(backing, log))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, sto.Close())
	}()

	rep := report{
		Allocator: cfg.Storage.Allocator,
		Steps:     opts.steps,
		Timings:   make(map[string]string),
	}
	timed := func(name string, fn func() error) error {
		start := time.Now()
		if err := fn(); err != nil {
			return eris.Wrap(err, name)
		}
		rep.Timings[name] = time.Since(start).String()
		return nil
	}

	pos := depot.FactoryNewComponent[position]()
	vel := depot.FactoryNewComponent[velocity]()

	var entities []depot.Entity
	err = timed("create", func() error {
		entities, err = sto.NewEntities(opts.entities, pos)
		return err
	})
	if err != nil {
		return err
	}
	rep.Created = len(entities)

	if err := timed("assign", func() error {
		return vel.AssignMany(entities, velocity{X: 1, Y: 0.5})
	}); err != nil {
		return err
	}

	access := depot.NewAccess().Read(vel).Write(pos)
	moving := depot.Factory.NewQuery().And(pos, vel)
	if err := timed("iterate", func() error {
		for range opts.steps {
			cursor := depot.Factory.NewCursor(moving, sto).WithAccess(access)
			for chunk := range cursor.Chunks() {
				p := pos.Column(chunk)
				v := vel.ReadColumn(chunk)
				for i := range p {
					p[i].X += v[i].X
					p[i].Y += v[i].Y
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := timed("destroy", func() error {
		doomed := make([]depot.Entity, 0, len(entities)/opts.destroyN+1)
		for i := 0; i < len(entities); i += opts.destroyN {
			doomed = append(doomed, entities[i])
		}
		rep.Destroyed = len(doomed)
		return sto.DestroyEntities(doomed...)
	}); err != nil {
		return err
	}
	rep.Live = sto.Len()

	for _, arch := range iter_util.Collect(sto.Archetypes()) {
		ar := archetypeReport{ID: arch.ID(), Entities: arch.Len()}
		for t := range arch.Spec().All() {
			ar.Components = append(ar.Components, t.Name())
		}
		for range arch.Chunks() {
			ar.Chunks++
		}
		rep.Archetypes = append(rep.Archetypes, ar)
	}
	rep.Memory = memoryStats(backing)

	if h, ok := backing.(*alloc.Heap); ok {
		if err := h.Validate(); err != nil {
			return eris.Wrap(err, "heap validation")
		}
	}
	log.Info("workload finished",
		zap.Int("created", rep.Created),
		zap.Int("destroyed", rep.Destroyed),
		zap.Int("live", rep.Live),
	)
	return writeReport(out, rep, opts.asJSON)
}

func memoryStats(a alloc.Allocator) any {
	switch a := a.(type) {
	case *alloc.Dynamic:
		return a.Stats()
	case *alloc.Heap:
		return a.Stats()
	case *alloc.Arena:
		return a.Stats()
	}
	return nil
}

func writeReport(out io.Writer, rep report, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode report")
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	fmt.Fprintf(out, "allocator  %s\n", rep.Allocator)
	fmt.Fprintf(out, "created    %d\n", rep.Created)
	fmt.Fprintf(out, "destroyed  %d\n", rep.Destroyed)
	fmt.Fprintf(out, "live       %d\n", rep.Live)
	for _, ar := range rep.Archetypes {
		fmt.Fprintf(out, "archetype  %d %v: %d entities in %d chunks\n", ar.ID, ar.Components, ar.Entities, ar.Chunks)
	}
	for _, name := range []string{"create", "assign", "iterate", "destroy"} {
		fmt.Fprintf(out, "%-10s %s\n", name, rep.Timings[name])
	}
	fmt.Fprintf(out, "memory     %+v\n", rep.Memory)
	return nil
}
