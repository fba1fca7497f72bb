// Package uart provides a framed text transport over DMA-style serial ports.
//
// A port is served by one Transport. Received bytes land in an RX ring buffer
// whose write cursor is owned by the hardware; a periodic receive tick
// resynchronizes that cursor from the transfer counter and decants the new
// bytes into the inbox, which splits them into delimiter-terminated messages.
// Outbound text is queued in the outbox and a periodic transmit tick refills
// the TX ring buffer from it whenever the previous transfer has drained.
//
// Everything above PortDriver is hardware-agnostic.
package uart
