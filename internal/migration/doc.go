// Package migration upgrades persisted storage from one schema version to
// the next.
//
// A Migration names the version it produces and carries an ordered list of
// structural steps. Apply runs each version increment as one storage
// transaction that also records the new version, so a failing step leaves
// the stored version where it was. Downgrades are refused.
package migration
