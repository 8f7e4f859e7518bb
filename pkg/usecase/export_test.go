package usecase

// MergeHistories is exported for testing
var MergeHistories = mergeHistories
