// Command sealtrace-chaincode runs the supply-chain ledger as Fabric chaincode.
package main

import (
	"log/slog"
	"os"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

// NewChaincode builds the chaincode around SupplyChainContract.
func NewChaincode() (*contractapi.ContractChaincode, error) {
	contract := new(SupplyChainContract)
	contract.Name = "sealtrace"
	contract.Info.Title = "Sealtrace supply chain ledger"
	contract.Info.Version = "1.0.0"

	cc, err := contractapi.NewChaincode(contract)
	if err != nil {
		return nil, err
	}
	cc.Info.Title = "sealtrace"
	cc.Info.Version = "1.0.0"
	return cc, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cc, err := NewChaincode()
	if err != nil {
		logger.Error("Failed to create chaincode", "error", err)
		os.Exit(1)
	}
	if err := cc.Start(); err != nil {
		logger.Error("Failed to start chaincode", "error", err)
		os.Exit(1)
	}
}
