// Package pipeline drives an uploaded image through story and audio
// generation.
//
// Accept creates the record and hands its id to a Dispatcher; everything
// after that runs in the background through Run, which advances the record
// processing -> generating_audio -> completed, or to error when a stage
// fails or exceeds its deadline. The pipeline keeps no state besides the
// store and the set of ids it is currently running, so a record left in an
// intermediate status can be picked up again by rereading it.
package pipeline
