// Package domain holds the chat data model (users, groups, pending join
// requests, messages), the group membership invariants, and the error
// taxonomy shared by the services and the HTTP boundary.
package domain
