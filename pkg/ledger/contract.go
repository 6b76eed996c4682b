package ledger

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract view methods
const (
	MethodGetUserInfo          = "getUserInfo"
	MethodGetPoolBalances      = "getPoolBalances"
	MethodGetEarningsBreakdown = "getEarningsBreakdown"
	MethodGetDirectReferrals   = "getDirectReferrals"
	MethodGetWithdrawalRate    = "getWithdrawalRate"
	MethodGetLegVolumes        = "getLegVolumes"
	MethodGetPackagePrices     = "getPackagePrices"
)

// Contract state-changing methods
const (
	MethodRegister       = "register"
	MethodWithdraw       = "withdraw"
	MethodUpgradePackage = "upgradePackage"
)

// UserRecord is the decoded getUserInfo tuple
// getUserInfo(address) view returns (bool, uint8, address, uint96, uint96, uint96, uint96, uint32, uint32, bool, uint32, string)
type UserRecord struct {
	IsRegistered     bool
	PackageLevel     uint8
	Referrer         common.Address
	Balance          *big.Int
	TotalInvestment  *big.Int
	TotalEarnings    *big.Int
	EarningsCap      *big.Int
	DirectReferrals  uint32
	TeamSize         uint32
	IsBlacklisted    bool
	RegistrationTime uint32
	ReferralCode     string
}

// PoolBalances is the decoded getPoolBalances tuple
type PoolBalances struct {
	HelpPool   *big.Int
	LeaderPool *big.Int
	ClubPool   *big.Int
}

// EarningsRecord is the decoded getEarningsBreakdown tuple, one amount per stream
type EarningsRecord struct {
	DirectReferral *big.Int
	LevelBonus     *big.Int
	UplineBonus    *big.Int
	LeaderPool     *big.Int
	HelpPool       *big.Int
}

// ReferralList is the decoded getDirectReferrals tuple
type ReferralList struct {
	Referrals []common.Address
	Active    []bool
}

// LegVolumes is the decoded getLegVolumes tuple
type LegVolumes struct {
	Left  *big.Int
	Right *big.Int
}

const contractABIJSON = `[
	{
		"name": "getUserInfo",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "user", "type": "address"}],
		"outputs": [
			{"name": "isRegistered", "type": "bool"},
			{"name": "packageLevel", "type": "uint8"},
			{"name": "referrer", "type": "address"},
			{"name": "balance", "type": "uint96"},
			{"name": "totalInvestment", "type": "uint96"},
			{"name": "totalEarnings", "type": "uint96"},
			{"name": "earningsCap", "type": "uint96"},
			{"name": "directReferrals", "type": "uint32"},
			{"name": "teamSize", "type": "uint32"},
			{"name": "isBlacklisted", "type": "bool"},
			{"name": "registrationTime", "type": "uint32"},
			{"name": "referralCode", "type": "string"}
		]
	},
	{
		"name": "getPoolBalances",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [
			{"name": "helpPool", "type": "uint96"},
			{"name": "leaderPool", "type": "uint96"},
			{"name": "clubPool", "type": "uint96"}
		]
	},
	{
		"name": "getEarningsBreakdown",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "user", "type": "address"}],
		"outputs": [
			{"name": "directReferral", "type": "uint96"},
			{"name": "levelBonus", "type": "uint96"},
			{"name": "uplineBonus", "type": "uint96"},
			{"name": "leaderPool", "type": "uint96"},
			{"name": "helpPool", "type": "uint96"}
		]
	},
	{
		"name": "getDirectReferrals",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "user", "type": "address"}],
		"outputs": [
			{"name": "referrals", "type": "address[]"},
			{"name": "active", "type": "bool[]"}
		]
	},
	{
		"name": "getWithdrawalRate",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "user", "type": "address"}],
		"outputs": [{"name": "rate", "type": "uint8"}]
	},
	{
		"name": "getLegVolumes",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "user", "type": "address"}],
		"outputs": [
			{"name": "left", "type": "uint96"},
			{"name": "right", "type": "uint96"}
		]
	},
	{
		"name": "getPackagePrices",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "prices", "type": "uint96[]"}]
	},
	{
		"name": "register",
		"type": "function",
		"stateMutability": "payable",
		"inputs": [
			{"name": "referrer", "type": "address"},
			{"name": "packageLevel", "type": "uint8"}
		],
		"outputs": []
	},
	{
		"name": "withdraw",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "amount", "type": "uint256"}],
		"outputs": []
	},
	{
		"name": "upgradePackage",
		"type": "function",
		"stateMutability": "payable",
		"inputs": [{"name": "newLevel", "type": "uint8"}],
		"outputs": []
	},
	{
		"name": "EarningsUpdated",
		"type": "event",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "user", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"},
			{"indexed": false, "name": "earningsType", "type": "uint8"}
		]
	},
	{
		"name": "NewReferral",
		"type": "event",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "sponsor", "type": "address"},
			{"indexed": true, "name": "referral", "type": "address"},
			{"indexed": false, "name": "packageValue", "type": "uint256"}
		]
	},
	{
		"name": "WithdrawalProcessed",
		"type": "event",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "user", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"},
			{"indexed": false, "name": "fee", "type": "uint256"}
		]
	},
	{
		"name": "PackageUpgraded",
		"type": "event",
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "user", "type": "address"},
			{"indexed": false, "name": "oldPackage", "type": "uint8"},
			{"indexed": false, "name": "newPackage", "type": "uint8"},
			{"indexed": false, "name": "amountPaid", "type": "uint256"}
		]
	}
]`

var (
	parsedABI     abi.ABI
	parsedABIErr  error
	parsedABIOnce sync.Once
)

// ParseABI returns the contract ABI the gateway was built against
func ParseABI() (abi.ABI, error) {
	parsedABIOnce.Do(func() {
		parsedABI, parsedABIErr = abi.JSON(strings.NewReader(contractABIJSON))
	})
	return parsedABI, parsedABIErr
}
