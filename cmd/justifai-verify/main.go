// Command justifai-verify checks an augmented certificate PDF offline and,
// when chain access is configured, against its on-chain anchor.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"justifai.co/issuance/anchor"
	"justifai.co/issuance/config"
	"justifai.co/issuance/qr"
	"justifai.co/issuance/verify"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("justifai-verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	jsonOut := fs.Bool("json", false, "emit the full result as JSON")
	offline := fs.Bool("offline", false, "skip the on-chain anchor check")
	payloadFlag := fs.String("payload", "", "scanned QR payload fragment (base64url deflate)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: justifai-verify [-json] [-offline] [-payload <fragment>] <certificate.pdf>")
		return 2
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, "read:", err)
		return 1
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	opts := verify.Options{
		IssuerPublicKey: cfg.IssuerPublicKey,
		KnownProducers:  []string{cfg.IssuerName},
	}
	if *payloadFlag != "" {
		payload, err := qr.Decompress(*payloadFlag)
		if err != nil {
			fmt.Fprintln(errOut, "payload:", err)
			return 1
		}
		opts.QRPayload = payload
	}

	ctx := context.Background()
	if !*offline && cfg.ChainEnabled() {
		client, err := anchor.New(ctx, anchor.Config{
			RPCURL:        cfg.RPCURL,
			PrivateKeyHex: cfg.PrivateKey,
			Contract:      cfg.ContractAddr,
			Type:          anchor.ContractType(cfg.ContractType),
			ChainID:       cfg.ChainID,
			Network:       cfg.Network,
		})
		if err != nil {
			fmt.Fprintln(errOut, "chain:", err)
			return 1
		}
		defer client.Close()
		opts.Chain = client
	}

	res := verify.Verify(ctx, data, opts)

	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else {
		printHuman(out, res)
	}
	if !res.Valid {
		return 1
	}
	return 0
}

func printHuman(out io.Writer, res *verify.Result) {
	if res.Valid {
		fmt.Fprintln(out, "VALID")
	} else {
		fmt.Fprintln(out, "INVALID")
	}
	for _, e := range res.Errors {
		fmt.Fprintln(out, "  error:", e)
	}
	for _, w := range res.Warnings {
		fmt.Fprintln(out, "  warning:", w)
	}
	for _, step := range []string{
		verify.StepExtractOriginal, verify.StepExtractBundle, verify.StepDocumentHash,
		verify.StepFingerprint, verify.StepSignature, verify.StepMerkleMPI,
		verify.StepMerkleMPU, verify.StepAnchor, verify.StepIntegrity, verify.StepExpiry,
	} {
		if s, ok := res.Steps[step]; ok {
			status := "ok"
			if !s.OK {
				status = "FAIL"
			}
			fmt.Fprintf(out, "  %-20s %-4s %s\n", step, status, s.Detail)
		}
	}
}
