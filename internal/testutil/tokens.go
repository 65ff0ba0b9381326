// Package testutil provides testing utilities for the alm project.
package testutil

// Safe test credentials that won't trigger secret scanning or the safety
// gate's own detectors. They are short, low-entropy and obviously fake.
//
// ❌ DON'T use realistic shapes like ghp_ followed by 36 random characters.
// ✅ DO use these constants or similarly obvious fakes.
const (
	// FakeJiraClientID is a safe OAuth client id for the Atlassian exchange.
	FakeJiraClientID = "test-jira-client-id"

	// FakeJiraClientSecret is a safe OAuth client secret.
	FakeJiraClientSecret = "test-jira-client-secret"

	// FakeAccessToken is a safe bearer token returned by fake identity providers.
	FakeAccessToken = "test-access-token"

	// FakeGitHubToken is a safe test token for GitHub API authentication.
	FakeGitHubToken = "test-github-token"

	// FakeAccountID is the service account id used by fake trackers.
	FakeAccountID = "test-service-account"
)
