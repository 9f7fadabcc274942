// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the sidekik command-line interface.
//
// Commands:
//
//	sidekik login google|apple <token>   Exchange a provider token for a session
//	sidekik logout                       Revoke and clear the session
//	sidekik whoami                       Show the authenticated account
//	sidekik chats                        List conversations
//	sidekik configure                    Set the assistant persona
//	sidekik chat [id]                    Interactive chat REPL
//
// Interactive commands during chat:
//
//	/new                 Start a fresh conversation
//	/open <id>           Switch to an existing conversation
//	/chats               List conversations
//	/attach <path>       Upload a file for the next message
//	/detach <n>          Remove a pending attachment
//	/attachments         Show pending attachments
//	/quit                Exit
package cli
