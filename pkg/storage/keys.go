package storage

import "fmt"

// Key prefixes, following the teacher's "acc:"/"pos:"/"ord:" prefix-plus-
// range-scan scheme (pkg/app/core/account/keys.go) generalized to this
// domain's keyspaces: partitions, their pre-finalization backups, chunked
// transcript batches, and the funding/price history singletons.
const (
	prefixPartition       = "part:"
	prefixPartitionBackup = "partbak:"
	prefixTranscript      = "xscr:"
	prefixFundingHistory  = "fund"
	prefixPriceHistory    = "price"
	prefixInsuranceFund   = "insurance"
)

func partitionKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPartition, id))
}

func partitionBackupKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPartitionBackup, id))
}

// transcriptKey is zero-padded for lexicographic == numeric batch ordering,
// the same convention account/keys.go uses for trade timestamps.
func transcriptKey(batchIdx uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTranscript, batchIdx))
}

func transcriptPrefix() []byte {
	return []byte(prefixTranscript)
}

func fundingHistoryKey() []byte { return []byte(prefixFundingHistory) }
func priceHistoryKey() []byte   { return []byte(prefixPriceHistory) }
func insuranceFundKey() []byte  { return []byte(prefixInsuranceFund) }
