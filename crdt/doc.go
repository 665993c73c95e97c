/*
Package crdt implements the state-based last-write-wins element set
(LWW-Element-Set) that the replicas of this module are built on.

A set keeps two logs, one of add events and one of remove events,
each event being a value stamped with the instant it was issued at.
A value is present iff its latest add is not older than its latest
remove. Merge unions the logs of two states and then discards every
remove that collides with an add of the same value at exactly the
same instant, so concurrent add/remove ties go to the add.

CAUTION! Consider these two requirements:
* Timestamps are supplied by the caller (or by the set's clock) and
  must be comparable across replicas, e.g. synchronized wall clocks
  or hybrid logical clocks as provided by package clock.
* Remove only succeeds on a present value. The set locks internally
  so the check and the append are atomic, but the outcome still
  depends on the order in which callers reach the set.

Remove events are never garbage collected.

The design follows the LWW-element-set of Shapiro, Preguiça, Baquero
and Zawirski, available under:
https://hal.inria.fr/inria-00555588/document
*/
package crdt
