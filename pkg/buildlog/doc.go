/*
Package buildlog archives the output of failed builds.

Logs are stored in a bbolt database keyed by timestamp and package
name, so iteration order is age order and pruning the oldest entries
past the retention cap is a cursor walk from the front. The archive
outlives the containers that produced the logs, which are removed as
soon as they exit.
*/
package buildlog
