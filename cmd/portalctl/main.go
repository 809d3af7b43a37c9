package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/common"
	"github.com/sandeepkv93/gov-coordination-portal/internal/tools/portalctl"
)

func main() {
	if err := portalctl.NewRootCommand().Execute(); err != nil {
		if errors.Is(err, common.ErrCommandFailed) {
			os.Exit(3)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
