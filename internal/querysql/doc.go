// Package querysql builds parameterized SQL for the row store.
//
// Every Select carries an explicit ORDER BY so streamed and paginated reads
// see rows in a stable order, and every value is bound through a
// dialect-specific placeholder rather than interpolated.
package querysql
