// Package merger combines Vector Source and Regex Source hits into ranked,
// context-bearing ResultBlocks.
package merger
