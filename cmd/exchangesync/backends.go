package main

// Blank imports register the backend types with the global registry.
import (
	_ "exchangesync/backend/exchange" // Exchange EWS connector
	_ "exchangesync/backend/sqlite"   // SQLite mirror
)
