// Package assistants provides the conversation engine. An Assistant owns the ordered message history and runs the model-interaction loop: it sends the history and the tool catalog to the model, executes the requested tool calls one at a time, folds their results back into history, and repeats until the model answers with text.
package assistants
