// Package campaign implements the campaign lifecycle: creating, scheduling,
// cancelling and sending a template to a segment of contacts.
//
// Sending moves the campaign to SENDING with a compare-and-set so two
// instances can never send the same campaign, then walks the recipients in
// fixed-size batches with a pause between them. Inside a batch sends run
// concurrently up to a bound. A failed recipient never stops the others;
// the campaign ends SENT once every recipient has been processed.
//
// Repository implementations live in repository/postgres/.
package campaign
