package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"nousim/internal/infra/config"
)

// runEncrypt prints the enc: form of its argument for use in the config file.
func runEncrypt(w io.Writer) error {
	args := positional()
	if len(args) != 1 {
		return errors.New("usage: nousim encrypt VALUE")
	}
	passphrase := os.Getenv("NOUSIM_CONFIG_KEY")
	if passphrase == "" {
		return errors.New("NOUSIM_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "enc:"+enc)
	return nil
}
