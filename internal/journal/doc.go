// Package journal persists a local history of submissions and result polls in
// SQLite. It stores metadata only (identifiers, endpoints, outcomes, sizes);
// recordings themselves are never written here.
package journal
