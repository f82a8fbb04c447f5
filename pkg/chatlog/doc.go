// Package chatlog defines the neutral event protocol shared by drivers, the
// kernel, and modules: the event envelope for created, edited, and deleted
// messages, plus the bus, driver, and module contracts that move those events.
package chatlog
