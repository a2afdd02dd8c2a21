// Command justifai-keys manages issuer signing keys: generation, tenant
// derivation, and public-key export.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"justifai.co/issuance/keys"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return cmdInit(args[1:], out, errOut)
	case "derive":
		return cmdDerive(args[1:], out, errOut)
	case "export":
		return cmdExport(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "justifai-keys: issuer key management")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  justifai-keys init --file <path> [--force]")
	fmt.Fprintln(w, "  justifai-keys derive --seed-hex <64hex> --tenant <id> [--file <path>]")
	fmt.Fprintln(w, "  justifai-keys export --file <path>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - key files are written 0600; export prints the public key only")
}

func cmdInit(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(errOut)
	file := fs.String("file", "", "key file to create")
	force := fs.Bool("force", false, "overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(errOut, "init: --file is required")
		return 2
	}
	priv, err := keys.Generate()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := keys.Save(*file, priv, *force); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	pub, err := keys.PublicKey(priv)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, pub)
	return 0
}

func cmdDerive(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	fs.SetOutput(errOut)
	seedHex := fs.String("seed-hex", "", "32-byte root seed, hex")
	tenant := fs.String("tenant", "", "tenant id")
	file := fs.String("file", "", "optional key file to write")
	force := fs.Bool("force", false, "overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	seed, err := hex.DecodeString(*seedHex)
	if err != nil || len(seed) != keys.SeedSize {
		fmt.Fprintln(errOut, "derive: --seed-hex must be 64 hex chars")
		return 2
	}
	if *tenant == "" {
		fmt.Fprintln(errOut, "derive: --tenant is required")
		return 2
	}
	priv, err := keys.DeriveTenantKey(seed, *tenant)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if *file != "" {
		if err := keys.Save(*file, priv, *force); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}
	pub, err := keys.PublicKey(priv)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, pub)
	return 0
}

func cmdExport(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	file := fs.String("file", "", "key file to read")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(errOut, "export: --file is required")
		return 2
	}
	priv, err := keys.Load(*file)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	pub, err := keys.PublicKey(priv)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, pub)
	return 0
}
