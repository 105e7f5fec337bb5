package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflows table
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger_identifier VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				steps JSONB NOT NULL DEFAULT '[]',
				variables JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_environment ON workflows(environment_id);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);
			CREATE UNIQUE INDEX idx_workflows_trigger ON workflows(environment_id, trigger_identifier)
				WHERE deleted_at IS NULL;

			-- Create jobs table
			CREATE TABLE jobs (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				workflow_id UUID NOT NULL,
				transaction_id VARCHAR(255) NOT NULL,
				subscriber_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				template_id VARCHAR(255),
				step_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				parent_id UUID,
				payload JSONB,
				overrides JSONB,
				tenant JSONB,
				actor_id VARCHAR(255),
				provider_id VARCHAR(255),
				delay JSONB,
				digest JSONB,
				digest_key VARCHAR(511),
				digest_events JSONB,
				wake_at TIMESTAMP WITH TIME ZONE,
				error_text TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_transaction ON jobs(transaction_id);
			CREATE INDEX idx_jobs_parent ON jobs(parent_id);
			CREATE INDEX idx_jobs_due ON jobs(status, wake_at);
			CREATE INDEX idx_jobs_digest ON jobs(environment_id, digest_key, status);

			-- Create messages table
			CREATE TABLE messages (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				job_id UUID NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				transaction_id VARCHAR(255) NOT NULL,
				subscriber_id VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				provider_id VARCHAR(255) NOT NULL,
				content TEXT,
				subject TEXT,
				status VARCHAR(50) NOT NULL,
				error_text TEXT,
				provider_message_id VARCHAR(255),
				seen BOOLEAN NOT NULL DEFAULT false,
				read BOOLEAN NOT NULL DEFAULT false,
				last_seen_date TIMESTAMP WITH TIME ZONE,
				expire_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_messages_transaction ON messages(transaction_id);
			CREATE INDEX idx_messages_subscriber ON messages(environment_id, subscriber_id);
			CREATE INDEX idx_messages_step_lookup ON messages(environment_id, subscriber_id, step_id, transaction_id);
			CREATE INDEX idx_messages_expire_at ON messages(expire_at);

			-- Create subscribers table
			CREATE TABLE subscribers (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(255) NOT NULL,
				subscriber_id VARCHAR(255) NOT NULL,
				first_name VARCHAR(255),
				last_name VARCHAR(255),
				email VARCHAR(255),
				phone VARCHAR(255),
				avatar TEXT,
				locale VARCHAR(50),
				data JSONB,
				channels JSONB,
				topics JSONB,
				is_online BOOLEAN,
				last_online_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_subscribers_key ON subscribers(environment_id, subscriber_id);

			CREATE INDEX idx_subscribers_topics ON subscribers USING GIN (topics);

			-- Create integrations table
			CREATE TABLE integrations (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				provider_id VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				is_primary BOOLEAN NOT NULL DEFAULT false,
				priority INTEGER NOT NULL DEFAULT 0,
				credentials JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_integrations_lookup ON integrations(environment_id, channel, active);

			-- Create execution_details table
			CREATE TABLE execution_details (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				job_id UUID NOT NULL,
				message_id UUID,
				transaction_id VARCHAR(255) NOT NULL,
				subscriber_id VARCHAR(255) NOT NULL,
				detail VARCHAR(100) NOT NULL,
				status VARCHAR(50) NOT NULL,
				raw TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_details_job ON execution_details(job_id);
			CREATE INDEX idx_execution_details_transaction ON execution_details(transaction_id);
			CREATE INDEX idx_execution_details_message ON execution_details(message_id, created_at);
		`,
	}
}
