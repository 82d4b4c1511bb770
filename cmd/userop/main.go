package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/batua/wallet/erc4337"
	"github.com/batua/wallet/src/app"
	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/kernel"
	"github.com/batua/wallet/src/service/userop"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// userop inspects user operations the wallet prepared or sent.
//
//	userop inspect -chain 84532 op.json   hash, decoded calls, gas cost and signature parts
//	userop receipt -chain 84532 0x<hash>  poll the chain's bundler for the receipt
func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Error loading .env file: %v", err)
		}
	}

	if len(os.Args) < 2 {
		usage()
	}

	flags := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	chainID := flags.Uint64("chain", domain.BaseSepolia.ID, "chain id")
	timeout := flags.Duration("timeout", 2*time.Minute, "receipt polling timeout")
	_ = flags.Parse(os.Args[2:])
	if flags.NArg() != 1 {
		usage()
	}

	logger := app.InitLogger(os.Getenv("LOG_LEVEL"), app.LogFormatConsole)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx)

	switch os.Args[1] {
	case "inspect":
		raw, err := os.ReadFile(flags.Arg(0))
		if err != nil {
			log.Fatalf("Failed to read user operation: %v", err)
		}
		report, err := inspect(raw, *chainID)
		if err != nil {
			log.Fatalf("Failed to inspect user operation: %v", err)
		}
		printJSON(report)

	case "receipt":
		bundlerURL := os.Getenv(fmt.Sprintf("BUNDLER_URL_%d", *chainID))
		if bundlerURL == "" {
			log.Fatalf("BUNDLER_URL_%d not set in environment", *chainID)
		}
		if !strings.HasPrefix(flags.Arg(0), "0x") || len(flags.Arg(0)) != 66 {
			log.Fatalf("Invalid user operation hash %q", flags.Arg(0))
		}

		bundler, err := erc4337.DialContext(ctx, bundlerURL)
		if err != nil {
			log.Fatalf("Failed to connect to bundler: %v", err)
		}
		defer bundler.Client().Close()

		waitCtx, waitCancel := context.WithTimeout(ctx, *timeout)
		defer waitCancel()
		logger.Info().Str("userOpHash", flags.Arg(0)).Msg("Polling for user operation receipt...")
		receipt, err := erc4337.WaitForUserOperationReceipt(waitCtx, bundler, common.HexToHash(flags.Arg(0)), erc4337.DefaultWaitOptions())
		if err != nil {
			log.Fatalf("Failed to get user operation receipt: %v", err)
		}
		printJSON(receipt)

	default:
		usage()
	}
}

type report struct {
	Hash       common.Hash    `json:"hash"`
	Sender     common.Address `json:"sender"`
	Nonce      string         `json:"nonce"`
	Deploys    bool           `json:"deploys"`
	Sponsored  bool           `json:"sponsored"`
	Calls      []domain.Call  `json:"calls,omitempty"`
	CallsError string         `json:"callsError,omitempty"`
	MaxGasCost string         `json:"maxGasCost"`
	Signature  interface{}    `json:"signature,omitempty"`
}

func inspect(raw []byte, chainID uint64) (*report, error) {
	var op erc4337.UserOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("failed to parse user operation: %w", err)
	}

	hash, err := op.Hash(erc4337.EntryPointV07, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, fmt.Errorf("failed to hash user operation: %w", err)
	}

	r := &report{
		Hash:      hash,
		Sender:    op.Sender,
		Nonce:     fmt.Sprintf("%#x", op.Nonce),
		Deploys:   op.Factory != nil,
		Sponsored: op.Paymaster != nil,
	}

	if calls, err := kernel.DecodeCalls(op.CallData); err != nil {
		r.CallsError = err.Error()
	} else {
		r.Calls = calls
	}

	r.MaxGasCost = userop.GasCost(&op).String()

	if len(op.Signature) > 0 {
		if sig, _, err := kernel.DecodeSignature(op.Signature); err == nil {
			r.Signature = sig
		}
	}
	return r, nil
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: userop inspect [-chain id] <op.json> | userop receipt [-chain id] [-timeout d] <userOpHash>")
	os.Exit(2)
}
