// Package ledger keeps deletion tombstones so a delete propagates to the
// remote side exactly once and a late remote create can never bring a
// deleted task back.
package ledger
