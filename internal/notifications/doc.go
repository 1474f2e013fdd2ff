// Package notifications sends optional ntfy push notifications for
// completed and failed requests.
package notifications
