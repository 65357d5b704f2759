package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/services"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
)

// MutationResult is printed for every command that changes a record.
type MutationResult struct {
	Record  any                  `json:"record"`
	Outcome services.OutcomeView `json:"outcome"`
	Media   []models.Attachment  `json:"media,omitempty"`
	Dropped int                  `json:"dropped,omitempty"`
}

func printOutcome(w io.Writer, id string, o services.OutcomeView) {
	switch o.Kind {
	case "applied":
		fmt.Fprintf(w, "%s: applied (server id %s)\n", id, o.ServerID)
	case "queued":
		fmt.Fprintf(w, "%s: queued as operation %d\n", id, o.OperationID)
	case "rejected":
		fmt.Fprintf(w, "%s: rejected: %s\n", id, o.Reason)
	}
}

func newPropertyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "property",
		Aliases: []string{"properties"},
		Short:   "Create and inspect property listings",
	}
	cmd.AddCommand(newPropertyCreateCommand(opts))
	cmd.AddCommand(newPropertyUpdateCommand(opts))
	cmd.AddCommand(newPropertyDeleteCommand(opts))
	cmd.AddCommand(newPropertyListCommand(opts))
	return cmd
}

func newPropertyCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		p      models.Property
		kind   string
		images []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a listing, optionally with images",
		Example: `  offsync property create --title "Two bed flat" --price 950 --city Lyon \
    --listing-type rent --image ./front.jpg --image ./kitchen.jpg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			p.ListingType = models.ListingType(kind)
			in := services.PropertyInput{Property: p}
			for i, path := range images {
				in.Images = append(in.Images, services.MediaInput{Path: path, Primary: i == 0})
			}

			res, err := a.Properties.Create(cmd.Context(), in)
			if err != nil {
				return out.Error(err)
			}
			view := services.View(res.Outcome)
			return out.Success(MutationResult{Record: res.Property, Outcome: view, Media: res.Images, Dropped: res.Dropped}, func(w io.Writer) {
				printOutcome(w, res.Property.ID, view)
				if len(res.Images) > 0 || res.Dropped > 0 {
					fmt.Fprintf(w, "  %d image(s) attached, %d dropped\n", len(res.Images), res.Dropped)
				}
			})
		},
	}

	cmd.Flags().StringVar(&p.Title, "title", "", "listing title")
	cmd.Flags().StringVar(&p.Description, "description", "", "listing description")
	cmd.Flags().Float64Var(&p.Price, "price", 0, "asking price")
	cmd.Flags().StringVar(&p.Currency, "currency", "", "price currency")
	cmd.Flags().StringVar(&p.Address, "address", "", "street address")
	cmd.Flags().StringVar(&p.City, "city", "", "city")
	cmd.Flags().IntVar(&p.Bedrooms, "bedrooms", 0, "number of bedrooms")
	cmd.Flags().IntVar(&p.Bathrooms, "bathrooms", 0, "number of bathrooms")
	cmd.Flags().Float64Var(&p.Area, "area", 0, "floor area")
	cmd.Flags().StringVar(&kind, "listing-type", "", "rent or sale")
	cmd.Flags().StringVar(&p.OwnerID, "owner", "", "owner user id")
	cmd.Flags().StringArrayVar(&images, "image", nil, "image file to attach (repeatable; the first is primary)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newPropertyUpdateCommand(opts *RootOptions) *cobra.Command {
	var (
		title, description, city, kind string
		price                          float64
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)

			var patch models.PropertyPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("city") {
				patch.City = &city
			}
			if flags.Changed("price") {
				patch.Price = &price
			}
			if flags.Changed("listing-type") {
				lt := models.ListingType(kind)
				patch.ListingType = &lt
			}

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := a.Properties.Update(cmd.Context(), args[0], patch)
			if err != nil {
				return out.Error(err)
			}
			view := services.View(res.Outcome)
			return out.Success(MutationResult{Record: res.Property, Outcome: view}, func(w io.Writer) {
				printOutcome(w, res.Property.ID, view)
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "listing title")
	cmd.Flags().StringVar(&description, "description", "", "listing description")
	cmd.Flags().StringVar(&city, "city", "", "city")
	cmd.Flags().Float64Var(&price, "price", 0, "asking price")
	cmd.Flags().StringVar(&kind, "listing-type", "", "rent or sale")
	return cmd
}

func newPropertyDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			o, err := a.Properties.Delete(cmd.Context(), args[0])
			if err != nil {
				return out.Error(err)
			}
			view := services.View(o)
			return out.Success(MutationResult{Record: map[string]string{"id": args[0]}, Outcome: view}, func(w io.Writer) {
				printOutcome(w, args[0], view)
			})
		},
	}
}

func newPropertyListCommand(opts *RootOptions) *cobra.Command {
	var (
		city   string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List listings stored on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp(a)

			filters := []db.Filter{db.OrderByDesc("updatedAt")}
			if city != "" {
				filters = append(filters, db.Eq("city", city))
			}
			if status != "" {
				filters = append(filters, store.Status(models.SyncStatus(status)))
			}
			if limit > 0 {
				filters = append(filters, db.Limit(limit))
			}

			props, err := a.Properties.List(cmd.Context(), filters...)
			if err != nil {
				return out.Error(err)
			}
			return out.Success(props, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tCITY\tPRICE\tSTATUS\tSERVER ID")
				for _, p := range props {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\n", p.ID, p.Title, p.City, p.Price, p.SyncStatus, p.ServerID)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&city, "city", "", "only listings in this city")
	cmd.Flags().StringVar(&status, "status", "", "only listings with this sync status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of listings")
	return cmd
}
