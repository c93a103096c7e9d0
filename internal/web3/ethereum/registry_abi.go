package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// registryABI covers the subset of the automation registry the agent calls.
const registryABI = `[
  {"type":"function","name":"getEpochState","stateMutability":"view","inputs":[],
   "outputs":[{"name":"lastReconfig","type":"uint64"},{"name":"epochInterval","type":"uint64"}]},
  {"type":"function","name":"estimateAutomationFee","stateMutability":"view",
   "inputs":[{"name":"maxGas","type":"uint64"}],
   "outputs":[{"name":"fee","type":"uint256"}]},
  {"type":"function","name":"isInitialized","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"usageStats","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"used","type":"uint64"},{"name":"total","type":"uint64"},{"name":"received","type":"uint256"},{"name":"swaps","type":"uint64"},{"name":"active","type":"bool"}]},
  {"type":"function","name":"willTriggerNext","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"registerTask","stateMutability":"nonpayable",
   "inputs":[{"name":"target","type":"address"},{"name":"params","type":"bytes"},{"name":"expiry","type":"uint64"},{"name":"maxGas","type":"uint64"},{"name":"gasPrice","type":"uint64"},{"name":"feeCap","type":"uint256"}],
   "outputs":[{"name":"taskIndex","type":"uint64"}]}
]`

const (
	methodEpochState   = "getEpochState"
	methodEstimateFee  = "estimateAutomationFee"
	methodInitialized  = "isInitialized"
	methodUsageStats   = "usageStats"
	methodWillTrigger  = "willTriggerNext"
	methodRegisterTask = "registerTask"
)

var parsedRegistryABI = mustParseABI(registryABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
