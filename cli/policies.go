package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"go.viam.com/camacq/components/camera/acquisition"
	"go.viam.com/camacq/components/camera/uc480"
)

var behaviorDescriptions = map[acquisition.FrameskipBehavior]string{
	acquisition.FrameskipIgnore: "deliver the frame, keep the skip count",
	acquisition.FrameskipSkip:   "deliver the frame, add the estimated loss to the skip count",
	acquisition.FrameskipError:  "reject the frame, the read fails with a frame transfer error",
}

// PoliciesAction lists the frameskip behaviors applied when a hardware frame counter restarts.
func PoliciesAction(c *cli.Context) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Behavior", "On counter restart"})
	for _, b := range acquisition.FrameskipBehaviors {
		t.AppendRow(table.Row{string(b), behaviorDescriptions[b]})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

// BackendsAction lists the camera backends a camera file can name.
func BackendsAction(c *cli.Context) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Backend", "Vendor", "Frame delivery"})
	for _, name := range uc480.VariantNames() {
		v, err := uc480.VariantByName(name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{v.Name, v.Vendor, v.Delivery.String()})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}
