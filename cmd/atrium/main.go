// Atrium is a small multi-user content server: member accounts, blog
// posts, and static info pages behind a JSON REST API.
//
// Usage:
//
//	# Start the server with default configuration
//	atrium run
//
//	# Start with a custom configuration file
//	atrium run --config /etc/atrium/config.yaml
//
//	# Apply the database schema without starting the server
//	atrium migrate
//
//	# Create the first administrator account
//	atrium useradd --email admin@example.com --password secret --admin
//
//	# Show version information
//	atrium version
package main

func main() {
	Execute()
}
