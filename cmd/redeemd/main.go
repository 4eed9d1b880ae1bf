package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"redeempool/config"
	"redeempool/core"
	"redeempool/native/registry"
	"redeempool/observability/logging"
	"redeempool/rpc"
	"redeempool/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REDEEMPOOL_ENV"))
	logger := logging.Setup("redeemd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	allocations, err := parseAllocations(cfg.Allocations)
	if err != nil {
		logger.Error("invalid genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	reg := registry.New(db, cfg.GovernanceCap)
	node, err := core.NewNode(db, reg, cfg.BeneficiaryAddress(), cfg.RedemptionWindow, allocations)
	if err != nil {
		logger.Error("failed to start node", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := node.RedemptionPool()
	if err != nil {
		logger.Error("failed to read pool state", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("pool ready",
		slog.String("network", cfg.NetworkName),
		slog.Int64("deadline", pool.Deadline),
		slog.String("totalFunding", pool.TotalFunding.String()),
		slog.Uint64("totalCommitments", pool.TotalCommitments),
	)

	server := rpc.NewServer(node, reg)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func parseAllocations(raw map[string]string) (map[[20]byte]*big.Int, error) {
	allocations := make(map[[20]byte]*big.Int, len(raw))
	for addr, amount := range raw {
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
		if !ok || parsed.Sign() < 0 {
			return nil, fmt.Errorf("allocation for %s: invalid amount %q", addr, amount)
		}
		allocations[common.HexToAddress(addr)] = parsed
	}
	return allocations, nil
}
