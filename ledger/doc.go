// Package ledger provides implementations of interfaces.LedgerClient.
//
// EthLedger talks to an EVM chain over JSON-RPC. Transactions are signed
// locally with a bind.TransactOpts signer, finality is observed by polling
// for the receipt, and created objects are read from ObjectCreated events
// emitted by the blob system contract.
//
// MemoryLedger executes registerBlob, certifyBlob and exchangeAllForPayment
// calls in process. It backs the test suites and the --dev mode of the
// publisher binaries, and supports failure injection with FailNext.
package ledger
