package cli

// PrintChangeRequests exports printChangeRequests for testing
var PrintChangeRequests = printChangeRequests

// IndexConfig exports getIndexConfig for testing
var IndexConfig = getIndexConfig
