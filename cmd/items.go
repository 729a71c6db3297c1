package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/beyondbrewing/brewery-idb/host"
	"github.com/beyondbrewing/brewery-idb/idb"
	"github.com/spf13/cobra"
)

// itemsVersion is the schema version the item commands open databases at.
const itemsVersion = 1

// item is the value the seed command writes under EncodeUint32(ID).
type item struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// storeOptions are the flags shared by commands that address one store.
type storeOptions struct {
	Database string
	Store    string
}

func (o *storeOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "items", "database name")
	cmd.Flags().StringVar(&o.Store, "store", "items", "object store name")
}

// open opens the database, creating the store when the database is new.
func (o *storeOptions) open(ctx context.Context, env *idb.Env) (*host.Database, error) {
	return env.OpenDatabase(o.Database, itemsVersion, func(d *host.Database, _ *host.Transaction, _, _ uint64) error {
		_, err := d.CreateObjectStore(o.Store)
		return err
	}).Await(ctx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}

// NewProbeCommand reports which flush strategy the host needs.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Detect whether the host needs eager microtask flushing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := *rootOpts
			opts.Probe = false
			return withRuntime(cmd.Context(), &opts, func(ctx context.Context, rt *runtime) error {
				needed, err := rt.env.DetectLegacyFlush(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "flush strategy: %s (legacy host: %t)\n", rt.env.FlushStrategy(), needed)
				return nil
			})
		},
	}
}

// NewSeedCommand writes numbered items into a store.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		store storeOptions
		count uint32
		first uint32
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write numbered items into a store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *runtime) error {
				d, err := store.open(ctx, rt.env)
				if err != nil {
					return err
				}
				defer d.Close()

				txn, err := d.Transaction([]string{store.Store}, host.ReadWrite)
				if err != nil {
					return err
				}
				st, err := txn.ObjectStore(store.Store)
				if err != nil {
					return err
				}
				done := rt.env.Transaction(txn)
				codec := idb.JSON[item]{}
				for id := first; id < first+count; id++ {
					value, err := codec.Encode(item{ID: id, Name: fmt.Sprintf("item-%d", id)})
					if err != nil {
						return err
					}
					if _, err := st.Put([]byte(idb.EncodeUint32(id)), value); err != nil {
						return err
					}
				}
				if _, err := done.Await(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d items into %s/%s\n", count, store.Database, store.Store)
				return nil
			})
		},
	}
	store.register(cmd)
	cmd.Flags().Uint32VarP(&count, "count", "n", 10, "number of items")
	cmd.Flags().Uint32Var(&first, "first", 1, "id of the first item")
	return cmd
}

// NewSelectCommand prints items in key order.
func NewSelectCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		store   storeOptions
		limit   int
		from    uint32
		reverse bool
	)
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Print items from a store in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *runtime) error {
				d, err := store.open(ctx, rt.env)
				if err != nil {
					return err
				}
				defer d.Close()

				var isDone func([]item) bool
				if limit > 0 {
					isDone = func(found []item) bool { return len(found) >= limit }
				}
				cursor := idb.WithCursor(func(st *host.ObjectStore) (*host.Request, error) {
					var rng *host.KeyRange
					dir := host.Next
					if reverse {
						dir = host.Prev
					}
					if cmd.Flags().Changed("from") {
						key := []byte(idb.EncodeUint32(from))
						if reverse {
							rng = host.UpperBound(key, false)
						} else {
							rng = host.LowerBound(key, false)
						}
					}
					return st.OpenCursor(rng, dir)
				})

				items, err := idb.SelectRange(rt.env, d, store.Store, idb.Codec[item](idb.JSON[item]{}), isDone, cursor).Await(ctx)
				if err != nil {
					return err
				}
				for _, it := range items {
					if err := writeJSON(cmd.OutOrStdout(), it); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	store.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "stop after this many items (0 for all)")
	cmd.Flags().Uint32Var(&from, "from", 0, "start at this id")
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "walk in descending key order")
	return cmd
}

// NewFindCommand prints the first item matching a name.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		store storeOptions
		name  string
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Print the first item with the given name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *runtime) error {
				d, err := store.open(ctx, rt.env)
				if err != nil {
					return err
				}
				defer d.Close()

				found, err := idb.FindFirst(rt.env, d, store.Store, idb.Codec[item](idb.JSON[item]{}),
					func(it item) bool { return it.Name == name }, idb.WithMode(host.ReadOnly)).Await(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), found)
			})
		},
	}
	store.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "item name to look for")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// NewDatabasesCommand lists the databases in the engine.
func NewDatabasesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), rootOpts, func(ctx context.Context, rt *runtime) error {
				names, err := rt.env.Factory().Databases()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}
}
