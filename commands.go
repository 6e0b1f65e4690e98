package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/tinkerbell/aqtctl/controller"
	"github.com/tinkerbell/aqtctl/pkg/license"
)

const defaultLicPath = "lic"

func newSubcommand(name, args, help string, register func(fs *flag.FlagSet), exec func(ctx context.Context, args []string) error) *ffcli.Command {
	fs := flag.NewFlagSet(appName+" "+name, flag.ExitOnError)
	register(fs)

	return &ffcli.Command{
		Name:       name,
		ShortUsage: fmt.Sprintf("%s [flags] %s [flags] %s", appName, name, args),
		ShortHelp:  help,
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix("AQTCTL")},
		Exec:       exec,
	}
}

func newLicenseAcceptCommand(root *rootConfig) *ffcli.Command {
	var licPath string
	var confirm bool

	return newSubcommand("license-accept", "", "Review and accept the appliance license.",
		func(fs *flag.FlagSet) {
			fs.StringVar(&licPath, "licpath", defaultLicPath, "Path where license information is stored.")
			fs.BoolVar(&confirm, "confirm", false, "Do not prompt but accept the license silently. License files are downloaded anyway.")
		},
		func(ctx context.Context, _ []string) error {
			a, err := root.appliance(ctx)
			if err != nil {
				return err
			}
			return acceptLicense(ctx, a, license.NewStore(licPath), confirm, os.Stdin, os.Stdout)
		},
	)
}

func acceptLicense(ctx context.Context, a *controller.Appliance, store *license.Store, confirm bool, in io.Reader, out io.Writer) error {
	props, err := a.Identify(ctx)
	if err != nil {
		return err
	}
	accepted, err := store.Accepted(props.Version)
	if err != nil {
		return err
	}
	if accepted {
		fmt.Fprintln(out, "License has been accepted already")
		return nil
	}

	lic, nonIBM, err := a.LicenseTexts(ctx)
	if err != nil {
		return err
	}
	licFile, nonIBMFile, err := store.SaveTexts(lic, nonIBM)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Please review the Db2 Analytics Accelerator license files")
	fmt.Fprintf(out, "License file in:          %s\n", licFile)
	fmt.Fprintf(out, "Non-IBM license file in:  %s\n", nonIBMFile)

	if !confirm {
		fmt.Fprint(out, "Accept license? (enter 'y'): ")
		if !confirmed(in) {
			return errors.New("license has not been accepted")
		}
	}
	if _, err := store.Record(props.Version); err != nil {
		return err
	}
	if err := a.EnsureLicense(ctx, store, props.Version); err != nil {
		return err
	}
	fmt.Fprintln(out, "License has been accepted successfully")

	return nil
}

// confirmed reads one answer line and reports whether it is a yes.
func confirmed(in io.Reader) bool {
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	switch strings.TrimSpace(answer) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func newUploadCommand(root *rootConfig) *ffcli.Command {
	var licPath, udid string

	return newSubcommand("upload", "<boot-device-id> <image>", "Install an accelerator image and boot it.",
		func(fs *flag.FlagSet) {
			fs.StringVar(&udid, "boot-udid", "", "UDID of a SCSI disk in 32 digit hexadecimal format, required if the device is an FCP device.")
			fs.StringVar(&licPath, "licpath", defaultLicPath, "Path where license accept information has been stored.")
		},
		func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return errors.New("upload requires a boot device id and an image")
			}
			dev, err := controller.NewDevice(args[0], udid)
			if err != nil {
				return err
			}
			image, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			defer image.Close()
			info, err := image.Stat()
			if err != nil {
				return fmt.Errorf("stat image: %w", err)
			}

			a, err := root.appliance(ctx)
			if err != nil {
				return err
			}
			if err := a.InstallImage(ctx, license.NewStore(licPath), dev, image, info.Size()); err != nil {
				return err
			}
			root.log.Info("image installed and booted", "device", dev.BusID, "image", args[1])

			return nil
		},
	)
}

func newFirstTimeSetupCommand(root *rootConfig) *ffcli.Command {
	var licPath, credentialsFile string
	var extraMinutes int

	return newSubcommand("first-time-setup", "<configuration-file>", "Apply the initial accelerator configuration.",
		func(fs *flag.FlagSet) {
			fs.StringVar(&credentialsFile, "credentials-file", "", "Data node credentials file, multiple node deployments only.")
			fs.IntVar(&extraMinutes, "additional-wait-time", 0, "Additional minutes to wait for the accelerator to start. Might be needed for many disks.")
			fs.StringVar(&licPath, "licpath", defaultLicPath, "Path where license accept information has been stored.")
		},
		func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("first-time-setup requires a configuration file")
			}
			config, err := readJSONFile(args[0])
			if err != nil {
				return err
			}
			credentials, err := readJSONFile(credentialsFile)
			if err != nil {
				return err
			}

			a, err := root.appliance(ctx)
			if err != nil {
				return err
			}
			if err := a.RunFirstTimeSetup(ctx, license.NewStore(licPath), config, credentials, extraMinutes); err != nil {
				return err
			}
			root.log.Info("first time setup completed, the accelerator is starting")

			return nil
		},
	)
}

func newCompleteUpdateCommand(root *rootConfig) *ffcli.Command {
	var licPath string

	return newSubcommand("complete-update", "<credentials-file>", "Complete a multiple node update with the data node credentials.",
		func(fs *flag.FlagSet) {
			fs.StringVar(&licPath, "licpath", defaultLicPath, "Path where license accept information has been stored.")
		},
		func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("complete-update requires a credentials file")
			}
			credentials, err := readJSONFile(args[0])
			if err != nil {
				return err
			}

			a, err := root.appliance(ctx)
			if err != nil {
				return err
			}
			if err := a.RunCompleteUpdate(ctx, license.NewStore(licPath), credentials); err != nil {
				return err
			}
			root.log.Info("update completed, the accelerator server is running")

			return nil
		},
	)
}

func newFCPListCommand(root *rootConfig) *ffcli.Command {
	var licPath string

	return newSubcommand("fcp-list", "<fcp-device-id>", "List the free disk ids behind an FCP device.",
		func(fs *flag.FlagSet) {
			fs.StringVar(&licPath, "licpath", defaultLicPath, "Path where license accept information has been stored.")
		},
		func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("fcp-list requires an FCP device bus id")
			}

			a, err := root.appliance(ctx)
			if err != nil {
				return err
			}
			props, err := a.Identify(ctx)
			if err != nil {
				return err
			}
			if err := a.EnsureLicense(ctx, license.NewStore(licPath), props.Version); err != nil {
				return err
			}
			list, err := a.FCPDisks(ctx, controller.NormalizeBusID(args[0]))
			if err != nil {
				return err
			}
			for _, in := range list.Instances {
				fmt.Fprintln(os.Stdout, in.ID)
			}
			fmt.Fprintf(os.Stdout, "Total disks: %d\n", len(list.Instances))

			return nil
		},
	)
}

// readJSONFile returns the content of the JSON file name, or nil when name is empty.
func readJSONFile(name string) (json.RawMessage, error) {
	if name == "" {
		return nil, nil
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%s is not valid JSON", name)
	}

	return json.RawMessage(b), nil
}
