package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/mezonai/headerd/addrbook"
	"github.com/mezonai/headerd/config"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Inspect or edit the persisted address book",
}

var peersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the peers in the address book",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := peersConfig(cmd)
		if err != nil {
			return err
		}
		book, err := addrbook.Load(cfg.AddressBookPath())
		if err != nil {
			return err
		}
		for _, a := range book.Addrs() {
			fmt.Fprintln(cmd.OutOrStdout(), a)
		}
		return nil
	},
}

var peersAddCmd = &cobra.Command{
	Use:   "add ADDR...",
	Short: "Add host:port entries to the address book, creating it if needed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := peersConfig(cmd)
		if err != nil {
			return err
		}
		added, err := addrbook.FromAddrs(args)
		if err != nil {
			return err
		}
		path := cfg.AddressBookPath()
		book, err := addrbook.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			book, err = addrbook.New(), nil
		}
		if err != nil {
			return err
		}
		for _, a := range added.Addrs() {
			if err := book.Add(a); err != nil {
				return err
			}
		}
		if err := book.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d peers in %s\n", book.Len(), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(peersCmd)
	peersCmd.AddCommand(peersListCmd, peersAddCmd)
}

func peersConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
