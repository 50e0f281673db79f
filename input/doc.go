// Package input segments a transport's byte stream into records and routes
// them to the transport's callback slots.
//
// Two framing modes exist. FixedLength(n) emits a record every n bytes;
// FixedLength(0) emits every byte on its own. DelimiterByte(d) emits a record
// at each d, inclusive of d, or when the buffer fills up first.
//
// Each State has exactly two slots, data and error, each holding at most one
// Handler. The record buffer exists only while a data handler is bound.
package input
