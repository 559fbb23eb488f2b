package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/bindings/go/testhost/cmd/discover/internal/config"
	"ocm.software/open-component-model/bindings/go/testhost/cmd/discover/internal/flags/enum"
	"ocm.software/open-component-model/bindings/go/testhost/extensions"
)

const (
	FlagKind   = "kind"
	FlagPath   = "path"
	FlagVerify = "verify"
)

func NewExtensions() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extensions",
		Aliases: []string{"extension", "ext", "exts"},
		Short:   "List the extensions available to test hosts",
		Long: `List the extensions that are found in the well known extension directory and in the
additional extension locations.

With --path only the given location is inspected, well known extensions are not listed.
With --verify every listed extension is loaded and loading errors are reported.`,
		Example: `  discover extensions --extension-directory /opt/testhost/extensions
  discover extensions --kind executor -o yaml
  discover extensions --path ./tools/extensions/csv --verify`,
		Args:              cobra.NoArgs,
		RunE:              ListExtensions,
		DisableAutoGenTag: true,
	}

	enum.Var(cmd.Flags(), FlagKind, []string{string(extensions.KindDiscoverer), string(extensions.KindExecutor)}, "kind of extensions to list")
	enum.VarP(cmd.Flags(), FlagOutput, "o", []string{"table", "yaml", "json"}, "output format of the extensions")
	cmd.Flags().String(FlagPath, "", "only inspect this extension location")
	cmd.Flags().Bool(FlagVerify, false, "load every extension and fail if one cannot be loaded")

	return cmd
}

func ListExtensions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)

	kind, err := enum.Get(cmd.Flags(), FlagKind)
	if err != nil {
		return fmt.Errorf("getting kind flag failed: %w", err)
	}
	output, err := enum.Get(cmd.Flags(), FlagOutput)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}
	path, err := cmd.Flags().GetString(FlagPath)
	if err != nil {
		return fmt.Errorf("getting path flag failed: %w", err)
	}
	verify, err := cmd.Flags().GetBool(FlagVerify)
	if err != nil {
		return fmt.Errorf("getting verify flag failed: %w", err)
	}

	registry := newRegistry(cfg, nil)

	var descriptors []*extensions.Descriptor
	if path != "" {
		if descriptors, err = registry.ForExtension(ctx, extensions.Kind(kind), path); err != nil {
			return err
		}
		if verify {
			for _, d := range descriptors {
				if _, err := d.Implementation(ctx); err != nil {
					return fmt.Errorf("loading extension %s failed: %w", d, err)
				}
			}
		}
	} else {
		if verify {
			if err := registry.LoadAndInitializeAll(ctx, extensions.Kind(kind), true); err != nil {
				return fmt.Errorf("loading %s extensions failed: %w", kind, err)
			}
		}
		if descriptors, err = registry.GetOrCreate(ctx, extensions.Kind(kind)); err != nil {
			return err
		}
	}

	data, err := encodeExtensions(output, descriptors)
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return fmt.Errorf("writing extensions failed: %w", err)
	}

	return nil
}
