// Package intrusive implements containers whose links live inside the
// values they order: a circular doubly linked List and an unbalanced binary
// search Map.
//
// A value takes part by embedding a ListNode or MapNode and exposing it
// through the ListHook or MapHook method the node provides. Containers
// never own their values; erasing only relinks pointers.
//
// Neither container is safe for concurrent mutation, and neither may be
// copied after first use.
package intrusive
