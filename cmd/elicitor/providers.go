package main

// Notifier blank imports: each import activates a self-registering adapter.

import (
	_ "github.com/Strob0t/elicitor/internal/adapter/discord"
	_ "github.com/Strob0t/elicitor/internal/adapter/email"
	_ "github.com/Strob0t/elicitor/internal/adapter/slack"
)
