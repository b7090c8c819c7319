// Package regexsource implements the Regex Source: an in-memory corpus of
// indexed lines queried by shelling out to an external pattern matcher,
// mirroring how the Repository Scanner treats git as an external program
// rather than a linked library.
package regexsource
