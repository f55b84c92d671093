/*
Package connectors holds the built-in connector types. Each registers
itself into the registry's builder catalogue at init time; importing
this package (the relay binary does, for side effect) is what makes the
builders discoverable.

Built-ins are deliberately protocol-free: log-notify is a notification
channel writing to the hub log, file-recorder appends JSON lines, and
heartbeat publishes periodic events. Real protocol connectors (cameras,
feeds, messaging) live out of tree and register the same way.
*/
package connectors
